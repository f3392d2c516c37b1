package client

import (
	"log/slog"
	"net/http"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client, e.g. to tune
// timeouts or inject a transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.http = httpClient }
}

// WithCodec sets the wire codec for event subscriptions.
// Supported values: "json" (default), "msgpack".
func WithCodec(name string) Option {
	return func(c *Client) { c.codec = name }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

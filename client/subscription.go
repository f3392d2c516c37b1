package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/stream"
)

// creditBatch is how many events the client absorbs before topping the
// server's flow-control window back up.
const creditBatch = 64

// Subscription is a live lifecycle event stream. Events arrive on C;
// the channel closes when the connection drops or Close is called.
type Subscription struct {
	conn   net.Conn
	codec  stream.Codec
	logger *slog.Logger

	events chan *stream.Event
	quit   chan struct{}
	closed atomic.Bool
}

type creditGrant struct {
	Credits int64 `json:"credits"`
}

// Subscribe opens a WebSocket to /v1/events for the given topics.
//
// Topics follow the stream convention:
//   - "job:<jobID>"  — events for a specific job
//   - "lane:<name>"  — events for one priority lane
//   - "jobs"         — all job lifecycle events
//   - "firehose"     — everything, cron fires included
//
// With no topics the server defaults to the firehose. Delivery is
// best-effort: a subscriber that stops draining C stops receiving.
func (c *Client) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	wsURL, err := c.eventsURL(topics)
	if err != nil {
		return nil, err
	}

	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("triage/client: dial events: %w", err)
	}

	sub := &Subscription{
		conn:   conn,
		codec:  stream.GetCodec(c.codec),
		logger: c.logger,
		events: make(chan *stream.Event, creditBatch),
		quit:   make(chan struct{}),
	}
	go sub.readLoop()
	return sub, nil
}

// WatchJob subscribes to the lifecycle events of a single job.
func (c *Client) WatchJob(ctx context.Context, jobID id.JobID) (*Subscription, error) {
	return c.Subscribe(ctx, stream.JobTopic(jobID.String()))
}

// eventsURL rewrites the base URL into the WebSocket endpoint.
func (c *Client) eventsURL(topics []string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("triage/client: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("triage/client: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/v1/events"

	q := url.Values{}
	if len(topics) > 0 {
		q.Set("topics", strings.Join(topics, ","))
	}
	if c.codec != "" {
		q.Set("codec", c.codec)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// C returns the event channel.
func (s *Subscription) C() <-chan *stream.Event { return s.events }

// Close tears the stream down. Safe to call more than once.
func (s *Subscription) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.quit)
	return s.conn.Close()
}

// readLoop decodes server frames into the event channel and grants
// credits as they are absorbed. The server seeds the window itself, so
// grants only need to keep pace with consumption.
func (s *Subscription) readLoop() {
	defer close(s.events)

	var sinceGrant int64
	for {
		data, op, err := wsutil.ReadServerData(s.conn)
		if err != nil {
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}

		evt, err := s.codec.Decode(data)
		if err != nil {
			s.logger.Warn("triage/client: dropping undecodable event", slog.Any("error", err))
			continue
		}

		select {
		case s.events <- evt:
		case <-s.quit:
			return
		}

		sinceGrant++
		if sinceGrant >= creditBatch {
			if err := s.grant(sinceGrant); err != nil {
				return
			}
			sinceGrant = 0
		}
	}
}

func (s *Subscription) grant(n int64) error {
	data, err := json.Marshal(creditGrant{Credits: n})
	if err != nil {
		return err
	}
	return wsutil.WriteClientText(s.conn, data)
}

package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/stream"
)

// creditGrant is the only message clients send: a flow-control top-up.
type creditGrant struct {
	Credits int64 `json:"credits"`
}

// events handles GET /v1/events?topics=<csv>&codec=<json|msgpack>. The
// connection is upgraded to a WebSocket and lifecycle events matching the
// requested topics are pushed until the client disconnects. Delivery is
// best-effort: a client that stops granting credits stops receiving.
func (a *API) events(c *gin.Context) {
	if a.broker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream not configured"})
		return
	}

	topics := []string{stream.TopicFirehose}
	if raw := c.Query("topics"); raw != "" {
		topics = strings.Split(raw, ",")
		for _, topic := range topics {
			if err := stream.ValidateTopic(topic); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
	}
	codec := stream.GetCodec(c.Query("codec"))

	conn, _, _, err := ws.UpgradeHTTP(c.Request, c.Writer)
	if err != nil {
		// UpgradeHTTP has already written the handshake rejection.
		a.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}

	subID := id.NewSubscriberID().String()
	sub := a.broker.Subscribe(subID, topics...)
	a.logger.Info("event subscriber connected",
		slog.String("subscriber_id", subID),
		slog.String("codec", codec.Name()),
		slog.Any("topics", topics),
	)

	go a.eventWriteLoop(conn, sub, codec)
	go a.eventReadLoop(conn, sub)
}

// eventWriteLoop pushes broker events to the client until the subscriber
// channel closes or a write fails.
func (a *API) eventWriteLoop(conn net.Conn, sub *stream.Subscriber, codec stream.Codec) {
	defer a.dropSubscriber(conn, sub)

	op := ws.OpText
	if codec.Name() == stream.CodecNameMsgpack {
		op = ws.OpBinary
	}

	for evt := range sub.C() {
		data, err := codec.Encode(evt)
		if err != nil {
			a.logger.Error("encode event", slog.Any("error", err))
			continue
		}
		if err := wsutil.WriteServerMessage(conn, op, data); err != nil {
			return
		}
	}
}

// eventReadLoop consumes client frames: credit grants and the close
// handshake. Any read error tears the subscription down.
func (a *API) eventReadLoop(conn net.Conn, sub *stream.Subscriber) {
	defer a.dropSubscriber(conn, sub)

	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		var grant creditGrant
		if err := json.Unmarshal(data, &grant); err != nil || grant.Credits <= 0 {
			continue
		}
		sub.AddCredits(grant.Credits)
	}
}

// dropSubscriber tears the subscription down. Whichever loop fails first
// wins; the other observes the removal and returns quietly.
func (a *API) dropSubscriber(conn net.Conn, sub *stream.Subscriber) {
	if _, ok := a.broker.GetSubscriber(sub.ID()); !ok {
		return
	}
	a.broker.RemoveSubscriber(sub.ID())
	conn.Close() //nolint:errcheck // teardown path
	a.logger.Info("event subscriber disconnected", slog.String("subscriber_id", sub.ID()))
}

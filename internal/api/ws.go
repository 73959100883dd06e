package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/framegate/framegate/internal/protocol"
	"github.com/framegate/framegate/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The relay page is served same-origin; cross-origin sockets only
		// reach the machine through validated protocol messages.
		return true
	},
}

// relayMessage is the envelope the relay page sends over the session
// channel. frame-load carries no payload; child-message carries the raw
// postMessage data, validated server-side before it can influence the
// machine.
type relayMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// serverMessage is the envelope sent to the relay page.
type serverMessage struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	Directive *session.Directive `json:"directive,omitempty"`
}

// wsSink writes machine directives to the socket. The read loop and
// timer callbacks both send, so writes are serialized here.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(d session.Directive) error {
	return s.write(serverMessage{Type: "directive", Directive: &d})
}

func (s *wsSink) write(msg serverMessage) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Session upgrades to WebSocket and runs one fallback state machine for
// the lifetime of the connection.
func (h *Handlers) Session(c *gin.Context) {
	slug := c.Query("slug")
	if slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug is required"})
		return
	}
	target, err := h.registry.Lookup(slug)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown demo"})
		return
	}

	force := c.Query("force")
	if force != "" && !validForce(force) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "force must be iframe, proxy or default"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("slug", slug), zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.SessionsActive.Inc()
	defer h.metrics.SessionsActive.Dec()

	sink := &wsSink{conn: conn}
	machine := session.New(session.Config{
		Target:      target,
		Prober:      h.prober,
		Events:      h.sink,
		Sink:        sink,
		Log:         h.log.Named("session"),
		LoadTimeout: h.loadTimeout,
		ProxyURL:    "/demo/" + slug + "/site",
		Force:       session.Mode(force),
	})
	// Navigation away is teardown, not an outcome; Stop cancels pending
	// timers so no directive fires into a closed socket.
	defer machine.Stop()

	log := h.log.With(
		zap.String("slug", slug),
		zap.String("session_id", machine.ID()),
	)
	log.Info("session opened")
	defer log.Info("session closed")

	if err := sink.write(serverMessage{Type: "session", SessionID: machine.ID()}); err != nil {
		return
	}

	// Start blocks on the frame-policy probe; the read loop must already
	// be draining so an early frame-load is not lost.
	ctx := c.Request.Context()
	go machine.Start(ctx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg relayMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			log.Debug("malformed relay message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "frame-load":
			machine.FrameLoaded()
		case "child-message":
			child, err := protocol.ParseChildMessage(msg.Payload)
			if err != nil {
				// Arbitrary postMessage traffic is forwarded verbatim by
				// the relay; only well-formed protocol messages get through.
				log.Debug("rejected child message", zap.Error(err))
				continue
			}
			machine.ChildMessage(ctx, child)
		case "ping":
			_ = sink.write(serverMessage{Type: "pong"})
		default:
			log.Debug("unknown relay message type", zap.String("type", msg.Type))
		}
	}
}

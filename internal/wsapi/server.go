// Package wsapi serves live watch subscriptions over WebSocket: a client
// connects, optionally replays history since a revision, then receives
// PUT/DELETE/PURGE events as they occur. Grounded on coordinator.Coordinator's
// send-channel-plus-pump-goroutines shape, adapted from a dialing client to
// an accepting server.
package wsapi

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"kvstore.dev/kvstore/internal/db"
	"kvstore.dev/kvstore/internal/logging"
	"kvstore.dev/kvstore/internal/tenant"
	"kvstore.dev/kvstore/internal/watch"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	defaultQueue   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wires a watch.Registry to a pair of WebSocket route handlers.
type Server struct {
	registry *watch.Registry
	db       *db.DB
	log      *logging.Logger
	queueSize int
}

// New builds a wsapi Server.
func New(registry *watch.Registry, database *db.DB, log *logging.Logger, queueSize int) *Server {
	if queueSize <= 0 {
		queueSize = defaultQueue
	}
	return &Server{registry: registry, db: database, log: log, queueSize: queueSize}
}

// Register attaches the watch routes to e under /api/v1.
func (s *Server) Register(e *echo.Echo) {
	v1 := e.Group("/api/v1")
	v1.GET("/kv/watch/:bucket", s.watchKVBucket)
	v1.GET("/kv/watch/:bucket/:key", s.watchKVKey)
	v1.GET("/objects/watch/:bucket", s.watchObjectBucket)
}

func (s *Server) watchKVBucket(c echo.Context) error {
	return s.serve(c, c.Param("bucket"), "")
}

func (s *Server) watchKVKey(c echo.Context) error {
	return s.serve(c, c.Param("bucket"), c.Param("key"))
}

func (s *Server) watchObjectBucket(c echo.Context) error {
	return s.serve(c, c.Param("bucket"), "")
}

// serve upgrades the connection, optionally replays history since the
// "since" query parameter, then pumps live events to the client until it
// disconnects or is dropped for a full queue.
func (s *Server) serve(c echo.Context, bucket, key string) error {
	t := c.Request().Header.Get(tenant.Header)

	since := int64(0)
	if raw := c.QueryParam("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			since = n
		}
	}
	replay := c.QueryParam("replay") == "true"

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil // the upgrader already wrote the error response
	}
	defer conn.Close()

	sub := watch.NewSubscriber(uuid.NewString(), t, bucket, key, since, s.queueSize)
	defer sub.Close()

	ctx := c.Request().Context()
	if replay {
		var replayErr error
		if key != "" {
			replayErr = watch.ReplayKey(ctx, s.db, t, bucket, key, since, sub)
		} else {
			replayErr = watch.ReplayBucket(ctx, s.db, t, bucket, since, sub)
		}
		if replayErr != nil {
			s.log.WithError(replayErr).Warn("watch replay failed")
		}
	}

	s.registry.Subscribe(sub)
	defer s.registry.Unsubscribe(sub)

	_ = conn.WriteJSON(connectedMessage{
		Type:   "connected",
		Bucket: bucket,
		Key:    key,
		Since:  since,
	})

	done := make(chan struct{})
	go s.readPump(conn, sub, done)
	s.writePump(conn, sub, done)
	return nil
}

// readPump drains client frames (pings and disconnects); it does not
// expect application messages beyond a literal "ping" text frame.
func (s *Server) readPump(conn *websocket.Conn, sub *watch.Subscriber, done chan struct{}) {
	defer close(done)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) == "ping" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
		}
	}
}

// writePump forwards subscriber events and periodic pings until the
// subscriber is closed, the connection's read pump exits, or a write fails.
func (s *Server) writePump(conn *websocket.Conn, sub *watch.Subscriber, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		if sub.Closed() {
			return
		}
		select {
		case <-done:
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(toEventMessage(evt)); err != nil {
				return
			}
		case <-ticker.C:
			if sub.Closed() {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type connectedMessage struct {
	Type   string `json:"type"`
	Bucket string `json:"bucket"`
	Key    string `json:"key,omitempty"`
	Since  int64  `json:"since"`
}

type eventMessage struct {
	Type      string `json:"type"`
	Bucket    string `json:"bucket"`
	Key       string `json:"key,omitempty"`
	Name      string `json:"name,omitempty"`
	Value     string `json:"value,omitempty"`
	Revision  int64  `json:"revision,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func toEventMessage(e watch.Event) eventMessage {
	m := eventMessage{
		Type:      string(e.Type),
		Bucket:    e.Bucket,
		Revision:  e.Revision,
		Size:      e.Size,
		Digest:    e.Digest,
		Timestamp: e.Timestamp.Unix(),
	}
	if e.Key != "" {
		m.Key = e.Key
		if e.Type != watch.EventDelete && e.Type != watch.EventPurge {
			m.Value = base64.StdEncoding.EncodeToString(e.Value)
		}
	}
	return m
}

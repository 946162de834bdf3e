package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-fetcher/internal/pubsub"
	"github.com/alanbriolat/video-fetcher/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// Clients only ever send control frames
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Desktop webviews may not send an Origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is an event as sent to websocket clients.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type client struct {
	conn   *websocket.Conn
	events pubsub.ReceiverCloser[session.Event]
	log    *zap.SugaredLogger
}

// streamEvents streams events on the topics named in the comma-separated "topics" query parameter, or all events.
func (srv *Server) streamEvents(c *gin.Context) {
	var topics []string
	for _, topic := range strings.Split(c.Query("topics"), ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			topics = append(topics, topic)
		}
	}
	events, err := srv.session.Subscribe(topics...)
	if err != nil {
		srv.respondError(c, err)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written an error response
		events.Close()
		srv.log.Debugf("websocket upgrade failed: %v", err)
		return
	}
	cl := &client{
		conn:   conn,
		events: events,
		log:    srv.log.With("remote", conn.RemoteAddr().String()),
	}
	cl.log.Debugw("websocket connected", "topics", topics)
	go cl.writePump()
	cl.readPump()
}

// readPump only handles control frames, and unsubscribes once the connection goes away.
func (c *client) readPump() {
	defer func() {
		c.events.Close()
		c.log.Debug("websocket disconnected")
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debugf("websocket error: %v", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case e, ok := <-c.events.Receive():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(Message{Event: e.Topic(), Payload: e.Payload()}); err != nil {
				c.log.Debugf("websocket write failed: %v", err)
				c.events.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.events.Close()
				return
			}
		}
	}
}

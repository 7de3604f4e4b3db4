package realtime

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 4 * 1024
	sendBufferSize = 64
)

// RoomTokenVerifier checks a scoped subscription token and returns the
// conversation id it grants access to.
type RoomTokenVerifier interface {
	VerifyRoomToken(token string) (conversationID string, err error)
}

// controlFrame is the only message shape clients may send upstream.
type controlFrame struct {
	Action string `json:"action"`
	Room   string `json:"room"`
	Token  string `json:"token,omitempty"`
}

type ackFrame struct {
	OK    bool   `json:"ok"`
	Room  string `json:"room"`
	Error string `json:"error,omitempty"`
}

// Client is one websocket subscriber. The write pump owns the connection;
// everything else goes through the send channel.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	tokens RoomTokenVerifier
	logger *slog.Logger

	send      chan []byte
	closeOnce sync.Once
}

// NewClient wraps an upgraded connection. Serve must be called to start
// the pumps; it blocks until the connection drops.
func NewClient(hub *Hub, conn *websocket.Conn, tokens RoomTokenVerifier) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		tokens: tokens,
		logger: hub.logger,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Serve runs the read and write pumps until the peer disconnects.
func (c *Client) Serve() {
	go c.writePump()
	c.readPump()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Remove(c)
		c.close()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame controlFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", slog.Any("error", err))
			}
			return
		}
		c.handleControl(frame)
	}
}

func (c *Client) handleControl(frame controlFrame) {
	switch frame.Action {
	case "join":
		if err := c.join(frame); err != nil {
			c.ack(ackFrame{OK: false, Room: frame.Room, Error: err.Error()})
			return
		}
		c.ack(ackFrame{OK: true, Room: frame.Room})
	case "leave":
		c.hub.Leave(c, frame.Room)
		c.ack(ackFrame{OK: true, Room: frame.Room})
	default:
		c.ack(ackFrame{OK: false, Room: frame.Room, Error: "unknown action"})
	}
}

func (c *Client) join(frame controlFrame) error {
	if frame.Room == TopicDispatch {
		c.hub.Join(c, TopicDispatch)
		return nil
	}
	// Conversation rooms are scoped: the token names the one conversation
	// this subscriber may watch.
	id, ok := strings.CutPrefix(frame.Room, "conversation:")
	if !ok {
		return errUnknownRoom
	}
	granted, err := c.tokens.VerifyRoomToken(frame.Token)
	if err != nil {
		return err
	}
	if granted != id {
		return errRoomForbidden
	}
	c.hub.Join(c, frame.Room)
	return nil
}

func (c *Client) ack(frame ackFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

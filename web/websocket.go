package web

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/stevegt/plex/core"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Frame types.  Clients send "turn"; the server answers each turn
// with "stage" and "token" frames followed by one "reply" or
// "error".
const (
	FrameTurn  = "turn"
	FrameStage = "stage"
	FrameToken = "token"
	FrameReply = "reply"
	FrameError = "error"
)

// Frame is one websocket message in either direction.
type Frame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// wsClient is one websocket connection bound to a session.
type wsClient struct {
	conn *websocket.Conn
	send chan Frame
	l    *live
	id   string
	// ctx is canceled when the connection's reader exits.
	ctx    context.Context
	cancel context.CancelFunc
}

// wsHandler upgrades the connection and streams turns for the
// session.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	l, ok := s.lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	c := &wsClient{
		conn: conn,
		send: make(chan Frame, 256),
		l:    l,
		id:   id,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.writePump()
	go c.readPump()
}

// readPump reads turns from the client and runs them one at a time.
func (c *wsClient) readPump() {
	defer func() {
		c.cancel()
		close(c.send)
	}()
	for {
		var msg Frame
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}
		if msg.Type != FrameTurn {
			c.send <- Frame{Type: FrameError, Error: "unknown frame type: " + msg.Type}
			continue
		}
		c.turn(msg.Text)
	}
}

func (c *wsClient) turn(text string) {
	onStage := func(name string) { c.send <- Frame{Type: FrameStage, Stage: name} }
	onToken := func(frag string) { c.send <- Frame{Type: FrameToken, Text: frag} }
	reply, err := c.l.submit(c.ctx, text, onStage, onToken)
	switch {
	case err == nil:
		c.send <- Frame{Type: FrameReply, Text: reply}
	case errors.Is(err, core.ErrPersistence):
		log.Printf("session %s: %v", c.id, err)
		c.send <- Frame{Type: FrameReply, Text: reply, Warning: err.Error()}
	default:
		log.Printf("session %s: %v", c.id, err)
		c.send <- Frame{Type: FrameError, Error: err.Error()}
	}
}

// writePump writes frames to the client.
func (c *wsClient) writePump() {
	defer c.conn.Close()
	for frame := range c.send {
		if err := c.conn.WriteJSON(frame); err != nil {
			log.Printf("WebSocket write error: %v", err)
			break
		}
	}
	// drain so the reader never blocks on a dead connection
	for range c.send {
	}
}

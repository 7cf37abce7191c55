package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xhad/docqa/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the websocket frame exchanged with clients. Clients send
// {"type": "query", "content": "..."}; the server answers with "status",
// "stream", "response" or "error" frames.
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.FromContext(c.Request().Context()).Warn("WebSocket upgrade failed", "error", err)
		return nil
	}
	defer conn.Close()

	ctx := c.Request().Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.FromContext(ctx).Debug("WebSocket read ended", "error", err)
			}
			return nil
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendMessage(ctx, conn, "error", "Invalid message")
			continue
		}
		if msg.Type != "query" {
			s.sendMessage(ctx, conn, "error", "Unsupported message type")
			continue
		}

		// Frames are handled one at a time; a connection has a single writer.
		s.handleMessage(ctx, conn, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	s.sendMessage(ctx, conn, "status", "Searching documents")

	var (
		answer string
		err    error
	)
	if s.config.Streaming {
		answer, err = s.pipeline.QueryStream(ctx, msg.Content, func(chunk string) error {
			return conn.WriteJSON(Message{Type: "stream", Content: chunk})
		})
	} else {
		answer, err = s.pipeline.Query(ctx, msg.Content)
	}
	s.metrics.query(outcomeOf(err))

	if err != nil {
		_, body := queryError(ctx, err)
		s.sendMessage(ctx, conn, "error", body.Error)
		return
	}
	s.sendMessage(ctx, conn, "response", answer)
}

func (s *Server) sendMessage(ctx context.Context, conn *websocket.Conn, msgType, content string) {
	if err := conn.WriteJSON(Message{Type: msgType, Content: content}); err != nil {
		logger.FromContext(ctx).Warn("Error sending message", "type", msgType, "error", err)
	}
}

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"recording-ingest/dto"
	"recording-ingest/handler"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 16 << 20
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 << 10,
	WriteBufferSize: 64 << 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsHandler upgrades the request and serves the ingest channel on it.
func wsHandler(channel *handler.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		serveConn(c.Request.Context(), conn, channel)
	}
}

// connection owns one websocket. Only writeLoop writes to conn.
type connection struct {
	conn *websocket.Conn
	send chan dto.Response
	done chan struct{}
}

func serveConn(parent context.Context, conn *websocket.Conn, channel *handler.Channel) {
	logger := zerolog.Ctx(parent).With().
		Str("conn_id", uuid.NewString()).
		Str("remote_addr", conn.RemoteAddr().String()).
		Logger()
	ctx, cancel := context.WithCancel(logger.WithContext(parent))
	defer cancel()

	c := &connection{
		conn: conn,
		send: make(chan dto.Response, sendBuffer),
		done: make(chan struct{}),
	}
	logger.Info().Msg("ingest channel connected")

	go c.writeLoop(ctx)
	c.readLoop(ctx, channel)

	close(c.done)
	logger.Info().Msg("ingest channel closed")
}

// reply queues a response for the writer. Responses resolved after the
// connection closed are discarded.
func (c *connection) reply(ctx context.Context) handler.Reply {
	return func(resp dto.Response) {
		if !resp.Success {
			zerolog.Ctx(ctx).Debug().Str("id", resp.ID).Str("error", resp.Error).Msg("request failed")
		}
		select {
		case c.send <- resp:
		case <-c.done:
		}
	}
}

func (c *connection) readLoop(ctx context.Context, channel *handler.Channel) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	reply := c.reply(ctx)
	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("ingest channel read failed")
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		channel.Dispatch(ctx, raw, reply)
	}
}

func (c *connection) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case resp := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(resp); err != nil {
				zerolog.Ctx(ctx).Debug().Err(err).Msg("ingest channel write failed")
				c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

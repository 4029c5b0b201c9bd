// Package wsadapter adapts a single gorilla/websocket connection into a
// dispatcher.Sink, plus an echo.HandlerFunc that upgrades a request, decodes
// each incoming frame as a JSON-RPC Request, and dispatches it.
//
// Grounded line-for-line on the teacher's cmd/fanout/client.go Client
// (readPump/writePump, the writeWait/pongWait/pingPeriod constants, the
// "ignore client payloads, just watch for pong/close" readPump shape) and
// cmd/fanout/server.go's upgrader/HandleWebSocket wiring - generalized so
// readPump actually decodes client frames (JSON-RPC requests) instead of
// discarding them, since this surface's subscribe_* methods arrive as
// websocket frames rather than a separate HTTP POST route.
package wsadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/wasmrun/common/logger"
	"github.com/lyzr/wasmrun/internal/dispatcher"
	"github.com/lyzr/wasmrun/internal/rpcsurface"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is one upgraded WebSocket connection. It implements
// dispatcher.Sink so rpcsurface can hand it directly to a subscription.
type Conn struct {
	ws     *websocket.Conn
	log    *logger.Logger
	send   chan json.RawMessage
	closed chan struct{}
	once   sync.Once
}

// Send implements dispatcher.Sink.
func (c *Conn) Send(payload json.RawMessage) error {
	select {
	case <-c.closed:
		return dispatcher.ErrSinkClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return dispatcher.ErrSinkFull
	}
}

// Closed implements dispatcher.Sink.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

func (c *Conn) readPump(rpcCtx *rpcsurface.Context) {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				if c.log != nil {
					c.log.Info("websocket read error", "error", err)
				}
			}
			return
		}
		c.handleFrame(rpcCtx, raw)
	}
}

func (c *Conn) handleFrame(rpcCtx *rpcsurface.Context, raw []byte) {
	var req rpcsurface.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		c.replyError(nil, rpcsurface.CodeParseError, err.Error())
		return
	}

	switch req.Method {
	case rpcsurface.SubscribeNetworkEventsEndpoint:
		result, rpcErr := rpcsurface.SubscribeNetworkEvents(rpcCtx, c)
		c.replyResult(req.ID, result, rpcErr)
	case rpcsurface.SubscribeRunWorkflowEndpoint:
		params, rpcErr := rpcsurface.DecodeSubscribeRunWorkflow(req.Params)
		if rpcErr != nil {
			c.replyResult(req.ID, nil, rpcErr)
			return
		}
		result, rpcErr := rpcsurface.SubscribeRunWorkflow(rpcCtx, c, params.Name, params.Workflow)
		c.replyResult(req.ID, result, rpcErr)
	default:
		resp := rpcsurface.Handle(context.Background(), rpcCtx, req)
		c.sendResponse(resp)
	}
}

func (c *Conn) replyResult(id json.RawMessage, result any, rpcErr *rpcsurface.Error) {
	resp := rpcsurface.Response{JSONRPC: "2.0", ID: id}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else if encoded, err := json.Marshal(result); err == nil {
		resp.Result = encoded
	} else {
		resp.Error = &rpcsurface.Error{Code: rpcsurface.CodeInternalError, Message: "internal error"}
	}
	c.sendResponse(resp)
}

func (c *Conn) replyError(id json.RawMessage, code int, message string) {
	c.sendResponse(rpcsurface.Response{JSONRPC: "2.0", ID: id, Error: &rpcsurface.Error{Code: code, Message: message}})
}

func (c *Conn) sendResponse(resp rpcsurface.Response) {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = c.Send(encoded)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Handler upgrades the HTTP connection and runs the connection's read/write
// pumps until it closes.
func Handler(rpcCtx *rpcsurface.Context, log *logger.Logger) echo.HandlerFunc {
	return func(ec echo.Context) error {
		ws, err := upgrader.Upgrade(ec.Response(), ec.Request(), nil)
		if err != nil {
			return err
		}

		conn := &Conn{
			ws:     ws,
			log:    log,
			send:   make(chan json.RawMessage, sendBuffer),
			closed: make(chan struct{}),
		}

		go conn.writePump()
		conn.readPump(rpcCtx)
		return nil
	}
}

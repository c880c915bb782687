package live

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/peer-essay/backend/internal/service/broadcast"
	roundservice "github.com/zhouzirui/peer-essay/backend/internal/service/round"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Handler WebSocket回合处理器, 推送回合事件并接收参与者操作
type Handler struct {
	rounds   *roundservice.Manager
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(rounds *roundservice.Manager) *Handler {
	return &Handler{
		rounds: rounds,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/rounds/{roundID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type    string          `json:"type"`
	RoundID string          `json:"roundId"`
	Data    json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	RoundID   string      `json:"roundId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// client 串行化写入，gorilla 每个连接只允许一个并发写者。
type client struct {
	conn    *websocket.Conn
	roundID string
	mu      sync.Mutex
}

func (c *client) write(msg outgoingMessage) error {
	msg.Timestamp = time.Now().Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

func (c *client) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *client) sendResult(data interface{}) {
	if err := c.write(outgoingMessage{Type: "result", RoundID: c.roundID, Data: data}); err != nil {
		log.Printf("[live] write result failed round=%s: %v", c.roundID, err)
	}
}

func (c *client) sendError(message string) {
	if err := c.write(outgoingMessage{Type: "error", RoundID: c.roundID, Data: map[string]string{"message": message}}); err != nil {
		log.Printf("[live] write error failed round=%s: %v", c.roundID, err)
	}
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, "roundID")
	ctrl, err := h.rounds.Get(roundID)
	if err != nil {
		http.Error(w, "round not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[live] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[live] new connection for round: %s", roundID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{conn: conn, roundID: roundID}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	events, unsubscribe := ctrl.Hub().Subscribe(0)
	defer func() {
		cancel()
		unsubscribe()
	}()

	c.sendResult(map[string]any{"type": "connected", "round": ctrl.View()})

	go c.pingLoop(ctx)
	go c.forward(ctx, cancel, events)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[live] read error round=%s: %v", roundID, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.RoundID != "" && msg.RoundID != roundID {
			c.sendError("round mismatch")
			continue
		}
		h.handleMessage(ctrl, c, &msg)
	}
}

func (h *Handler) handleMessage(ctrl *roundservice.Controller, c *client, msg *inboundMessage) {
	var payload struct {
		Text   string `json:"text"`
		Answer string `json:"answer"`
		Notes  string `json:"notes"`
	}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError("invalid data payload")
			return
		}
	}

	var err error
	switch msg.Type {
	case "ask":
		err = ctrl.Ask(payload.Text)
	case "edit":
		err = ctrl.Edit(payload.Answer)
	case "notes":
		err = ctrl.EditNotes(payload.Notes)
	case "submit":
		err = ctrl.Submit()
	case "next":
		err = ctrl.Next()
	case "snapshot":
		c.sendResult(map[string]any{"type": "snapshot", "round": ctrl.View()})
		return
	default:
		c.sendError("unsupported message type: " + msg.Type)
		return
	}

	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.sendResult(map[string]any{"type": "ack", "action": msg.Type})
}

// forward 将回合事件推送给客户端; 回合结束时关闭连接
func (c *client) forward(ctx context.Context, cancel context.CancelFunc, events <-chan broadcast.Event) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				c.mu.Lock()
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "round closed"),
					time.Now().Add(writeTimeout))
				c.mu.Unlock()
				return
			}
			if err := c.write(outgoingMessage{Type: "result", RoundID: c.roundID, Data: map[string]any{"type": "event", "event": ev}}); err != nil {
				log.Printf("[live] write event failed round=%s: %v", c.roundID, err)
				// 解除读循环的阻塞
				c.conn.Close()
				return
			}
		}
	}
}

// pingLoop 定期发送ping消息
func (c *client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

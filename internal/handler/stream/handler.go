package stream

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/peer-essay/backend/internal/service/broadcast"
	roundservice "github.com/zhouzirui/peer-essay/backend/internal/service/round"
	"github.com/zhouzirui/peer-essay/backend/pkg/utils"
)

// EventSnapshot 流建立时发送一次的快照事件
const EventSnapshot = "snapshot"

const defaultHeartbeat = 15 * time.Second

// Handler 通过 Server-Sent Events 推送回合事件
type Handler struct {
	rounds    *roundservice.Manager
	heartbeat time.Duration
}

// New 创建流式处理器
func New(rounds *roundservice.Manager) *Handler {
	return &Handler{rounds: rounds, heartbeat: defaultHeartbeat}
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/rounds/{roundID}/events", h.handleEvents)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	roundID := chi.URLParam(r, "roundID")
	ctrl, err := h.rounds.Get(roundID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	// 先订阅再取快照, 避免两者之间的事件丢失
	events, cancel := ctrl.Hub().Subscribe(0)
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEEvent(w, flusher, EventSnapshot, ctrl.View()); err != nil {
		return
	}

	ctx := r.Context()
	log.Printf("[stream] opened round=%s", roundID)
	defer log.Printf("[stream] closed round=%s", roundID)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = utils.SendSSEEvent(w, flusher, "end", map[string]string{"roundId": roundID})
				return
			}
			if err := send(w, flusher, ev); err != nil {
				log.Printf("[stream] write failed round=%s: %v", roundID, err)
				return
			}
		case t := <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat "+t.UTC().Format(time.RFC3339)); err != nil {
				return
			}
		}
	}
}

func send(w http.ResponseWriter, flusher http.Flusher, ev broadcast.Event) error {
	return utils.SendSSEEvent(w, flusher, string(ev.Type), ev)
}

package round

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	roundmodel "github.com/zhouzirui/peer-essay/backend/internal/model/round"
	roundservice "github.com/zhouzirui/peer-essay/backend/internal/service/round"
	"github.com/zhouzirui/peer-essay/backend/pkg/utils"
)

// Handler 回合的HTTP处理器
type Handler struct {
	rounds *roundservice.Manager
}

// New 创建回合处理器
func New(rounds *roundservice.Manager) *Handler {
	return &Handler{rounds: rounds}
}

// RegisterRoutes 注册回合相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/rounds", h.handleCreateRound)
	r.Route("/rounds/{roundID}", func(rr chi.Router) {
		rr.Get("/", h.handleGetRound)
		rr.Delete("/", h.handleDeleteRound)
		rr.Post("/ask", h.handleAsk)
		rr.Post("/edit", h.handleEdit)
		rr.Post("/notes", h.handleNotes)
		rr.Post("/submit", h.handleSubmit)
		rr.Post("/next", h.handleNext)
	})
}

func (h *Handler) handleCreateRound(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Topic string `json:"topic"`
		Mode  string `json:"mode"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode, err := roundmodel.ParseMode(payload.Mode)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctrl, err := h.rounds.Create(payload.Topic, mode)
	if err != nil {
		RespondRoundError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, ctrl.View())
}

func (h *Handler) handleGetRound(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, ctrl.View())
}

func (h *Handler) handleDeleteRound(w http.ResponseWriter, r *http.Request) {
	if err := h.rounds.Remove(chi.URLParam(r, "roundID")); err != nil {
		RespondRoundError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	h.act(w, r, &payload, func(ctrl *roundservice.Controller) error { return ctrl.Ask(payload.Text) })
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Answer string `json:"answer"`
	}
	h.act(w, r, &payload, func(ctrl *roundservice.Controller) error { return ctrl.Edit(payload.Answer) })
}

func (h *Handler) handleNotes(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Notes string `json:"notes"`
	}
	h.act(w, r, &payload, func(ctrl *roundservice.Controller) error { return ctrl.EditNotes(payload.Notes) })
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, nil, func(ctrl *roundservice.Controller) error { return ctrl.Submit() })
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, nil, func(ctrl *roundservice.Controller) error { return ctrl.Next() })
}

// act 解码请求体（payload 非 nil 时），在回合上执行 fn 并返回回合视图。
func (h *Handler) act(w http.ResponseWriter, r *http.Request, payload any, fn func(*roundservice.Controller) error) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if payload != nil {
		if err := utils.DecodeJSON(r, payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := fn(ctrl); err != nil {
		RespondRoundError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, ctrl.View())
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*roundservice.Controller, bool) {
	ctrl, err := h.rounds.Get(chi.URLParam(r, "roundID"))
	if err != nil {
		RespondRoundError(w, err)
		return nil, false
	}
	return ctrl, true
}

// RespondRoundError 将回合错误映射为 HTTP 状态码
func RespondRoundError(w http.ResponseWriter, err error) {
	utils.RespondError(w, StatusFor(err), err.Error())
}

// StatusFor 返回回合错误对应的 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, roundservice.ErrRoundNotFound):
		return http.StatusNotFound
	case errors.Is(err, roundservice.ErrPhaseMismatch), errors.Is(err, roundservice.ErrAlreadyStarted):
		return http.StatusConflict
	case errors.Is(err, roundservice.ErrTopicRequired), errors.Is(err, roundservice.ErrEmptyQuestion):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

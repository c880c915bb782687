package result

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	roundmodel "github.com/zhouzirui/peer-essay/backend/internal/model/round"
	"github.com/zhouzirui/peer-essay/backend/internal/store"
	"github.com/zhouzirui/peer-essay/backend/pkg/utils"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Handler 提供已结束回合的查询接口
type Handler struct {
	repo store.Repository
}

// New 创建结果处理器
func New(repo store.Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes 注册结果相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/results", h.handleListResults)
	r.Get("/results/{roundID}", h.handleGetResult)
}

func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}

	results, err := h.repo.ListResults(r.Context(), r.URL.Query().Get("topic"), limit)
	if err != nil {
		log.Printf("[store] list results failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	if results == nil {
		results = []roundmodel.Result{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.repo.GetResult(r.Context(), chi.URLParam(r, "roundID"))
	if errors.Is(err, store.ErrResultNotFound) {
		utils.RespondError(w, http.StatusNotFound, "result not found")
		return
	}
	if err != nil {
		log.Printf("[store] get result failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/peer-essay/backend/internal/model/persona"
	"github.com/zhouzirui/peer-essay/backend/pkg/utils"
)

// Handler persona目录的HTTP处理器
type Handler struct {
	catalog persona.Catalog
}

// New 创建persona处理器
func New(catalog persona.Catalog) *Handler {
	return &Handler{
		catalog: catalog,
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/topics", h.handleListTopics)
	r.Get("/personas", h.handleListPersonas)
}

func (h *Handler) handleListTopics(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"topics": h.catalog.Topics()})
}

// handleListPersonas 列出某个话题下的persona; 不带topic时列出全部
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic != "" {
		items := h.catalog.ForTopic(topic)
		if items == nil {
			items = []persona.Persona{}
		}
		utils.RespondJSON(w, http.StatusOK, items)
		return
	}

	seen := make(map[string]bool)
	all := make([]persona.Persona, 0)
	for _, t := range h.catalog.Topics() {
		for _, p := range h.catalog.ForTopic(t) {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			all = append(all, p)
		}
	}
	utils.RespondJSON(w, http.StatusOK, all)
}

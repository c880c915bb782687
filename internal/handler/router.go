package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/peer-essay/backend/internal/handler/live"
	"github.com/zhouzirui/peer-essay/backend/internal/handler/persona"
	"github.com/zhouzirui/peer-essay/backend/internal/handler/result"
	"github.com/zhouzirui/peer-essay/backend/internal/handler/round"
	"github.com/zhouzirui/peer-essay/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/peer-essay/backend/internal/middleware"
	personaModel "github.com/zhouzirui/peer-essay/backend/internal/model/persona"
	roundService "github.com/zhouzirui/peer-essay/backend/internal/service/round"
	"github.com/zhouzirui/peer-essay/backend/internal/store"
	"github.com/zhouzirui/peer-essay/backend/pkg/utils"
)

// Options 路由配置
type Options struct {
	Catalog        personaModel.Catalog
	Rounds         *roundService.Manager
	Results        store.Repository // 为 nil 时不注册 /results 路由
	AllowedOrigins []string
}

// NewRouter 将 HTTP 路由绑定到核心服务
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(opts.AllowedOrigins))

	r.Get("/healthz", handleHealth(opts.Results))

	r.Route("/api", func(api chi.Router) {
		persona.New(opts.Catalog).RegisterRoutes(api)
		round.New(opts.Rounds).RegisterRoutes(api)
		stream.New(opts.Rounds).RegisterRoutes(api)
		live.New(opts.Rounds).RegisterRoutes(api)

		if opts.Results != nil {
			result.New(opts.Results).RegisterRoutes(api)
		} else {
			disabled := func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "result storage disabled")
			}
			api.Get("/results", disabled)
			api.Get("/results/{roundID}", disabled)
		}
	})

	return r
}

func handleHealth(results store.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "store": "disabled"}
		if results != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := results.Ping(ctx); err != nil {
				status["status"], status["store"] = "degraded", err.Error()
				utils.RespondJSON(w, http.StatusServiceUnavailable, status)
				return
			}
			status["store"] = "ok"
		}
		utils.RespondJSON(w, http.StatusOK, status)
	}
}

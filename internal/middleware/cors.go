// Package middleware 提供 API 路由共用的 HTTP 中间件。
package middleware

import "net/http"

// CORS 返回处理预检请求并为给定来源设置 CORS 头的中间件。
// "*" 回显任意来源，但不允许携带凭证。
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				wildcard, explicit := matchOrigin(allowedOrigins, origin)
				if wildcard || explicit {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
					w.Header().Add("Vary", "Origin")
				}
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func matchOrigin(allowed []string, origin string) (wildcard, explicit bool) {
	for _, o := range allowed {
		switch o {
		case origin:
			explicit = true
		case "*":
			wildcard = true
		}
	}
	return wildcard, explicit
}

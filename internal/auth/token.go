package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	loggerpkg "OrchestratorSiphon/pkg/logger"
)

var (
	// ErrMissingToken 表示请求未携带凭证。
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrInvalidToken 表示凭证不匹配。
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Guard 使用固定的 Bearer token 保护控制接口。Token 为空时不做校验。
type Guard struct {
	token string
}

// NewGuard 构造 Guard。
func NewGuard(token string) *Guard {
	return &Guard{token: strings.TrimSpace(token)}
}

// Enabled 报告是否启用了校验。
func (g *Guard) Enabled() bool { return g != nil && g.token != "" }

// Authenticate 校验 Authorization 头。
func (g *Guard) Authenticate(header string) error {
	if !g.Enabled() {
		return nil
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(g.token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Middleware 返回一个 HTTP 中间件，拒绝未认证的请求并记录审计日志。
func (g *Guard) Middleware(event string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			if err := g.Authenticate(r.Header.Get("Authorization")); err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrInvalidToken) {
					status = http.StatusForbidden
				}
				http.Error(w, http.StatusText(status), status)
				loggerpkg.Audit().Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"remote", r.RemoteAddr,
					"error", err.Error(),
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r)
			name := event
			if name == "" {
				name = r.URL.Path
			}
			loggerpkg.Audit().Info("api_request",
				"event", name,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", r.RemoteAddr,
			)
		})
	}
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

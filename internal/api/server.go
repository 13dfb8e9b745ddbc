package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"OrchestratorSiphon/internal/auth"
	"OrchestratorSiphon/internal/observability/metrics"
	"OrchestratorSiphon/internal/siphon"
	"OrchestratorSiphon/pkg/logger"
)

// Controller 是 API 对引擎的全部依赖，*siphon.Engine 实现了它。
type Controller interface {
	Snapshot() siphon.Snapshot
	Wake()
	Pause()
	Resume()
	Paused() bool
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr   string
	ctrl   Controller
	guard  *auth.Guard
	router *mux.Router
}

// NewServer 构造 API 服务实例。guard 为 nil 时控制接口不做认证。
func NewServer(addr string, ctrl Controller, guard *auth.Guard) *Server {
	s := &Server{addr: addr, ctrl: ctrl, guard: guard}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(observe)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/accounts", s.handleAccounts).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{address}", s.handleAccount).Methods(http.MethodGet)
	v1.HandleFunc("/round", s.handleRound).Methods(http.MethodGet)

	control := v1.NewRoute().Subrouter()
	control.Use(s.guard.Middleware("control"))
	control.HandleFunc("/tick", s.handleTick).Methods(http.MethodPost)
	control.HandleFunc("/pause", s.handlePause).Methods(http.MethodPost)
	control.HandleFunc("/resume", s.handleResume).Methods(http.MethodPost)
	return r
}

// Handler 返回路由，便于测试。
func (s *Server) Handler() http.Handler { return s.router }

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.router),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Named("api").Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type healthResponse struct {
	Status   string    `json:"status"`
	Paused   bool      `json:"paused"`
	LastTick time.Time `json:"last_tick"`
	Ticks    uint64    `json:"ticks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.ctrl.Snapshot()
	status := "ok"
	if snap.Paused {
		status = "paused"
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status, Paused: snap.Paused, LastTick: snap.LastTick, Ticks: snap.Ticks})
}

func (s *Server) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot().Accounts)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["address"]
	acct, ok := s.ctrl.Snapshot().Account(key)
	if !ok {
		writeError(w, http.StatusNotFound, "账户不存在: "+key)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleRound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot().Round)
}

type controlResponse struct {
	Accepted bool `json:"accepted"`
	Paused   bool `json:"paused"`
}

func (s *Server) handleTick(w http.ResponseWriter, _ *http.Request) {
	if s.ctrl.Paused() {
		writeError(w, http.StatusConflict, "引擎已暂停")
		return
	}
	s.ctrl.Wake()
	writeJSON(w, http.StatusAccepted, controlResponse{Accepted: true})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Pause()
	writeJSON(w, http.StatusOK, controlResponse{Accepted: true, Paused: true})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Resume()
	writeJSON(w, http.StatusOK, controlResponse{Accepted: true, Paused: false})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe 以路由模板为标签记录请求指标。
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		name := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				name = tpl
			}
		}
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(started))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// Package server 只读的运维 HTTP 接口：健康检查与执行历史查询。
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/QingMing-Bot/clore-ops-bot/internal/domain"
	"github.com/QingMing-Bot/clore-ops-bot/pkg/importexport"
)

const maxHistoryLimit = 500

// HistoryLister 历史查询
type HistoryLister interface {
	ListFiltered(limit int, host, cmdLike string) ([]domain.ExecHistory, error)
}

// Stats 健康检查附带的运行指标
type Stats func() map[string]any

// NewRouter /history 需要 Bearer token；token 为空时不挂载该路由
func NewRouter(history HistoryLister, token string, stats Stats, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &handlers{history: history, stats: stats, log: log}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", h.health)
	if history != nil && token != "" {
		r.With(requireToken(token)).Get("/history", h.listHistory)
	}
	return r
}

func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || got == "" {
				writeError(w, http.StatusUnauthorized, "missing token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusForbidden, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Run 监听 addr 直到 ctx 结束，然后优雅关闭
func Run(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type handlers struct {
	history HistoryLister
	stats   Stats
	log     *zap.Logger
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.stats != nil {
		for k, v := range h.stats() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// listHistory GET /history?limit=&host=&cmd=&format=csv
func (h *handlers) listHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	rows, err := h.history.ListFiltered(limit, q.Get("host"), q.Get("cmd"))
	if err != nil {
		h.log.Error("list history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	if q.Get("format") == "csv" {
		out, err := importexport.RenderHistoryCSV(rows)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to render history")
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write([]byte(out))
		return
	}
	body, err := importexport.SerializeHistoryJSON(rows)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render history")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

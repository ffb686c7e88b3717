package links

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"relaybot/internal/directory"
	"relaybot/pkg/logx"
)

type APIConfig struct {
	Enabled bool
	Addr    string
}

func (c APIConfig) withDefaults() APIConfig {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:5000"
	}
	return c
}

type resolveRequest struct {
	UUID      string `json:"uuid"`
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// APIServer exposes link resolution to the mini-app over HTTP.
type APIServer struct {
	mu   sync.Mutex
	log  logx.Logger
	srv  *http.Server
	ln   net.Listener
	addr string

	links *Service
	dir   *directory.Store
}

func NewAPIServer(links *Service, dir *directory.Store, log logx.Logger) *APIServer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &APIServer{log: log.With(logx.String("comp", "api")), links: links, dir: dir}
}

// Apply starts or stops the listener according to cfg.
func (a *APIServer) Apply(ctx context.Context, cfg APIConfig) {
	cfg = cfg.withDefaults()

	a.mu.Lock()
	defer a.mu.Unlock()

	if !cfg.Enabled {
		a.stopLocked(ctx)
		return
	}
	if a.srv != nil && a.addr == cfg.Addr {
		return
	}
	a.stopLocked(ctx)
	a.startLocked(cfg)
}

func (a *APIServer) startLocked(cfg APIConfig) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		a.log.Warn("api listen failed", logx.String("addr", cfg.Addr), logx.Err(err))
		return
	}
	a.srv = srv
	a.ln = ln
	a.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("api server error", logx.String("addr", a.addr), logx.Err(err))
		}
	}()
	a.log.Info("api enabled", logx.String("addr", a.addr))
}

// Stop gracefully shuts down the listener.
func (a *APIServer) Stop(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked(ctx)
}

func (a *APIServer) stopLocked(ctx context.Context) {
	if a.srv == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = a.srv.Shutdown(sctx)
	a.srv = nil
	a.ln = nil
	a.addr = ""
}

// Handler builds the route table; split out so tests can drive it with
// httptest without a listener.
func (a *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/resolve", a.handleResolve)
	return mux
}

func (a *APIServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	// A resolve call carries the caller's profile; register them so
	// mini-app users end up in the roster too.
	if req.ID != 0 && a.dir != nil {
		err := a.dir.Upsert(r.Context(), directory.Recipient{
			UserID:    req.ID,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Username:  req.Username,
		})
		if err != nil {
			a.log.Warn("resolve caller upsert failed", logx.Int64("user_id", req.ID), logx.Err(err))
		}
	}

	original, err := a.links.Resolve(r.Context(), req.UUID)
	if errors.Is(err, ErrNotFound) {
		a.log.Debug("link not found", logx.String("id", req.UUID))
		writeError(w, http.StatusNotFound, "link not found")
		return
	}
	if err != nil {
		a.log.Error("link resolve failed", logx.String("id", req.UUID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"originalLink": original})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

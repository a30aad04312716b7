package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"hearth/internal/domain"
	"hearth/internal/llm"
	"hearth/internal/module"
	"hearth/internal/tooling"
)

// ErrInvalidPort is returned when gateway port is not in 0..65535.
var ErrInvalidPort = errors.New("gateway port must be 0-65535")

// Deps are the runtime components the gateway exposes. Chat is required for
// /ws; the rest back the read-only inspection endpoints and may be nil.
type Deps struct {
	Chat      Chat
	Providers *llm.Service
	Registry  *tooling.Registry
	Host      *module.Host
	Logger    *slog.Logger
}

// Server is the HTTP/WebSocket front door. It optionally enforces Bearer
// token auth on every route.
type Server struct {
	cfg         *domain.GatewayConfig
	deps        Deps
	server      *http.Server
	addr        string
	addrMu      sync.RWMutex
	listenErr   error
	listenErrMu sync.Mutex
	listener    net.Listener
}

// NewServer builds a gateway server from config. Port 0 means pick a random port.
// Returns ErrInvalidPort if port is not in 0..65535.
func NewServer(cfg *domain.GatewayConfig, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = &domain.GatewayConfig{Port: 8080}
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, ErrInvalidPort
	}
	s := &Server{cfg: cfg, deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/api/providers", s.handleProviders)
	mux.HandleFunc("/api/tools", s.handleTools)
	mux.HandleFunc("/api/modules", s.handleModules)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) { s.handleWS(w, r) })

	s.server = &http.Server{
		Handler:           BearerAuth(cfg.Auth.AuthToken)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) log() *slog.Logger {
	if s.deps.Logger != nil {
		return s.deps.Logger
	}
	return slog.Default()
}

// handleProviders lists the registered providers and the current default.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if s.deps.Providers == nil {
		http.Error(w, "providers unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{
		"default":   s.deps.Providers.DefaultName(),
		"providers": s.deps.Providers.List(),
	})
}

// handleTools lists every registered tool definition.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{"tools": s.deps.Registry.Definitions()})
}

// handleModules reports each capability module's lifecycle state.
func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	if s.deps.Host == nil {
		writeJSON(w, map[string]any{"modules": map[string]string{}})
		return
	}
	states := make(map[string]string)
	for id, st := range s.deps.Host.Status() {
		states[id] = string(st)
	}
	writeJSON(w, map[string]any{"modules": states})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Addr returns the bound address (e.g. "127.0.0.1:8080") after Run has started. Empty before Run.
func (s *Server) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// ListenErr returns the error from the initial Listen in Run(), if any. Used
// when Addr() is still empty after Run() has been started.
func (s *Server) ListenErr() error {
	s.listenErrMu.Lock()
	defer s.listenErrMu.Unlock()
	return s.listenErr
}

// Handler returns the HTTP handler used by the server (BearerAuth + routes). For testing without binding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// netListen is the function used to listen; tests may replace it to force Listen errors.
var netListen = func(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// Run listens on the configured port and serves until shutdown is closed. Returns nil when shutdown.
func (s *Server) Run(shutdown <-chan struct{}) error {
	addr := ":" + strconv.Itoa(s.cfg.Port)
	ln, err := netListen("tcp", addr)
	if err != nil {
		s.listenErrMu.Lock()
		s.listenErr = err
		s.listenErrMu.Unlock()
		return err
	}
	s.addrMu.Lock()
	s.listener = ln
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()

	s.log().Info("gateway listening", "addr", s.addr)

	done := make(chan error, 1)
	go func() {
		done <- s.server.Serve(ln)
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = serverShutdown(s.server, ctx)
	if err != nil {
		return err
	}
	<-done
	return nil
}

// serverShutdown is the function used to shut down the server; tests may replace it.
var serverShutdown = func(srv *http.Server, ctx context.Context) error {
	return srv.Shutdown(ctx)
}

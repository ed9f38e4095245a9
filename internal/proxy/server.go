package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"time"

	"blockrun/internal/config"
	"blockrun/internal/routing"
	"blockrun/internal/version"
	"blockrun/internal/wallet"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the loopback HTTP server fronting the dispatcher.
type Server struct {
	config     *config.Config
	dispatcher *Dispatcher
	signer     wallet.Signer
	catalog    *routing.Catalog
	httpServer *http.Server
}

// NewServer wires the HTTP surface around a dispatcher.
func NewServer(cfg *config.Config, dispatcher *Dispatcher, signer wallet.Signer, catalog *routing.Catalog) *Server {
	s := &Server{
		config:     cfg,
		dispatcher: dispatcher,
		signer:     signer,
		catalog:    catalog,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/v1/chat/completions", dispatcher.HandleChatCompletions)
	r.Get("/health", s.handleHealth)
	r.Get("/models", s.handleModels)
	r.Get("/v1/models", s.handleModels)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/dashboard", s.handleDashboard)

	s.httpServer = &http.Server{
		// Loopback only: the proxy signs payments with a local wallet key
		// and must not be reachable from the network.
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the server until the context is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] listening on %s (wallet %s)", s.httpServer.Addr, s.signer.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Println("[Server] stopped gracefully")
	return nil
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"wallet":  s.signer.Address(),
		"version": version.Version,
	})
}

// handleModels serves the static model catalog in the OpenAI list shape,
// with the routing keywords listed first.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models := s.catalog.Models()
	sort.Strings(models)

	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	data := []modelEntry{
		{ID: "auto", Object: "model", OwnedBy: "blockrun"},
		{ID: "free", Object: "model", OwnedBy: "blockrun"},
		{ID: "eco", Object: "model", OwnedBy: "blockrun"},
		{ID: "premium", Object: "model", OwnedBy: "blockrun"},
	}
	for _, m := range models {
		data = append(data, modelEntry{ID: m, Object: "model", OwnedBy: "blockrun"})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"object": "list",
		"data":   data,
	})
}

// handleDashboard reverse-proxies to the external stats component when one
// is configured.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.config.DashboardURL == "" {
		http.NotFound(w, r)
		return
	}
	target, err := url.Parse(s.config.DashboardURL)
	if err != nil {
		writeAPIError(w, internalError("invalid dashboard url: %v", err))
		return
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ServeHTTP(w, r)
}

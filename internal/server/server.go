// Package server exposes the sync over HTTP: a webhook endpoint triggering a
// sync, a liveness probe and the Prometheus metrics.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/windmill-git-sync/windmill-git-sync/internal/logging"
	"github.com/windmill-git-sync/windmill-git-sync/internal/metrics"
	"github.com/windmill-git-sync/windmill-git-sync/internal/request"
	"github.com/windmill-git-sync/windmill-git-sync/internal/service"
)

const maxRequestBytes = 1 << 20

const busyMessage = "sync already in progress"

// Syncer runs a single sync.
type Syncer interface {
	Run(ctx context.Context, req request.Request) service.Result
}

type Server struct {
	router      *http.ServeMux
	syncer      Syncer
	apiPrefix   string
	apiKey      string
	syncTimeout time.Duration
	readyFn     func(context.Context) error
	log         *logging.Logger

	// busy admits one sync at a time: all syncs share the working directory.
	busy sync.Mutex
}

func New() *Server {
	return &Server{log: logging.NewNop()}
}

func (s *Server) WithRouter(router *http.ServeMux) *Server {
	s.router = router
	return s
}

func (s *Server) WithSyncer(syncer Syncer) *Server {
	s.syncer = syncer
	return s
}

func (s *Server) WithApiPrefix(prefix string) *Server {
	s.apiPrefix = strings.TrimSuffix(prefix, "/")
	return s
}

// WithApiKey requires sync requests to carry the key as a bearer token.
func (s *Server) WithApiKey(key string) *Server {
	s.apiKey = key
	return s
}

func (s *Server) WithSyncTimeout(d time.Duration) *Server {
	s.syncTimeout = d
	return s
}

func (s *Server) WithReadyFn(fn func(context.Context) error) *Server {
	s.readyFn = fn
	return s
}

func (s *Server) WithLogger(log *logging.Logger) *Server {
	s.log = log
	return s
}

// Init registers the routes on the router, creating one if none was set.
func (s *Server) Init() *Server {
	if s.router == nil {
		s.router = http.NewServeMux()
	}

	s.router.HandleFunc("POST "+s.apiPrefix+"/sync", s.handleSync)
	s.router.HandleFunc("GET "+s.apiPrefix+"/health", s.handleHealth)
	s.router.Handle("GET "+s.apiPrefix+"/metrics", promhttp.Handler())

	return s
}

// Handler returns the router serving all endpoints.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, service.Result{Success: false, Message: "unauthorized"})
		return
	}

	var req request.Request
	if err := newJSONDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, service.Result{
			Success:   false,
			Message:   fmt.Sprintf("%s: invalid request body: %v", service.CategoryValidation.Prefix(), err),
			ErrorType: service.CategoryValidation,
		})
		return
	}

	if !s.busy.TryLock() {
		metrics.SyncRejected.Inc()
		s.log.Warnf("rejected sync request for workspace %q: %s", req.Workspace, busyMessage)
		writeJSON(w, http.StatusConflict, service.Result{Success: false, Message: busyMessage})
		return
	}
	defer s.busy.Unlock()

	// A sync runs to completion even when the webhook caller hangs up.
	ctx := context.WithoutCancel(r.Context())
	if s.syncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.syncTimeout)
		defer cancel()
	}

	result := s.syncer.Run(ctx, req)

	status := http.StatusOK
	switch {
	case result.Success:
	case result.ErrorType == service.CategoryValidation:
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, result)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.readyFn != nil {
		if err := s.readyFn(r.Context()); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func newJSONDecoder(r io.Reader) *json.Decoder {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	return decoder
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

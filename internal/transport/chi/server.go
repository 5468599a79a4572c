// Package chi serves the imgdex HTTP API on a chi router.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	gochi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/domain"
	logpkg "github.com/kailas-cloud/imgdex/internal/logger"
	cacheuc "github.com/kailas-cloud/imgdex/internal/usecase/cache"
	healthuc "github.com/kailas-cloud/imgdex/internal/usecase/health"
	nameduc "github.com/kailas-cloud/imgdex/internal/usecase/named"
	searchuc "github.com/kailas-cloud/imgdex/internal/usecase/search"
	simuc "github.com/kailas-cloud/imgdex/internal/usecase/similarity"
)

// maxBodyBytes bounds request bodies; vectors make them large.
const maxBodyBytes = 16 << 20

// ErrorCode is a machine readable error class.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest       ErrorCode = "bad_request"
	CodeValidationFailed ErrorCode = "validation_failed"
	CodeUnauthorized     ErrorCode = "unauthorized"
	CodeNotFound         ErrorCode = "not_found"
	CodeNotImplemented   ErrorCode = "not_implemented"
	CodeInternalError    ErrorCode = "internal_error"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Services groups the use cases served over HTTP.
type Services struct {
	Search     *searchuc.Service
	Similarity *simuc.Service
	Cache      *cacheuc.Service
	Named      *nameduc.Service
	Health     *healthuc.Service
}

// Server implements the HTTP handlers.
type Server struct {
	svc           Services
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(svc Services) *Server {
	s := &Server{svc: svc}
	s.errorHandlers = []errorHandler{
		invalidArgumentHandler,
		sentinelHandler(domain.ErrInvalidArgument, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrInvalidRole, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrInvalidVectorSpace, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrCacheEntryNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrNodeSearchUnavailable, http.StatusNotImplemented, CodeNotImplemented),
	}
	return s
}

// Routes registers every endpoint on r.
func (s *Server) Routes(r gochi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r gochi.Router) {
		r.Post("/images/query", s.QueryImages)
		r.Post("/images/similar", s.SearchByVector)
		r.Post("/images/similar/batch", s.BatchSimilar)
		r.Post("/images/vectors/batch", s.UpdateVectorsBatch)

		r.Route("/images/{id}", func(r gochi.Router) {
			r.Get("/similar", s.SimilarTo)
			r.Get("/tags/suggest", s.SuggestTags)
			r.Put("/vectors", s.UpdateVectors)
			r.Get("/embeddings", s.GetEmbeddings)
			r.Delete("/embeddings", s.ReleaseEmbeddings)
			r.Put("/embeddings/{role}", s.AdoptEmbedding)
			r.Post("/named", s.RecomputeNamed)
		})

		r.Get("/stats/coverage", s.Coverage)
		r.Get("/stats/cache", s.CacheStats)
		r.Post("/cache/reclaim", s.Reclaim)

		r.Get("/registry", s.ListRegistry)
		r.Put("/registry", s.SyncRegistry)
		r.Get("/registry/{name}", s.GetRegistry)
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.svc.Health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if !report.Serving() {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// decodeJSON reads a bounded JSON body into v, replying 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrInvalidArgument,
		domain.ErrInvalidRole,
		domain.ErrInvalidVectorSpace,
		domain.ErrCacheEntryNotFound,
		domain.ErrNodeSearchUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// invalidArgumentHandler reports the offending field of an invalid argument.
func invalidArgumentHandler(w http.ResponseWriter, err error) bool {
	var iae *domain.InvalidArgumentError
	if !errors.As(err, &iae) {
		return false
	}
	writeError(w, http.StatusBadRequest, CodeValidationFailed, iae.Error())
	return true
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, safeDomainMessage(err))
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logpkg.FromContext(r.Context())
	for _, h := range s.errorHandlers {
		if h(w, err) {
			logger.Warn("domain error", zap.Error(err))
			return
		}
	}
	logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

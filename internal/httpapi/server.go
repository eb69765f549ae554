package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"RiskScanner/internal/domain"
	"RiskScanner/internal/metrics"
	"RiskScanner/internal/summary"
	"RiskScanner/internal/usecase"
)

const maxBodyBytes = 1 << 20

// Assessor is the use case surface the API drives.
type Assessor interface {
	Assess(ctx context.Context, req usecase.SearchRequest) (usecase.Assessment, error)
	Summarize(ctx context.Context, req summary.Request) (domain.SummaryResult, error)
}

// Server exposes the assessment pipeline over HTTP.
type Server struct {
	assessor Assessor
	metrics  *metrics.Metrics
	logger   *slog.Logger
	version  string
	router   chi.Router
}

// NewServer builds the router.
func NewServer(assessor Assessor, m *metrics.Metrics, log *slog.Logger, version string) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{assessor: assessor, metrics: m, logger: log, version: version}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/health", s.handleHealth)
	r.Post("/search", s.handleSearch)
	r.Post("/management-summary", s.handleSummary)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "healthy",
		Message: "risk scanner is running",
		Version: s.version,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	includeRSS := true
	if req.IncludeRSS != nil {
		includeRSS = *req.IncludeRSS
	}

	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	assessment, err := s.assessor.Assess(r.Context(), usecase.SearchRequest{
		CompanyName:      req.CompanyName,
		DaysBack:         req.DaysBack,
		IncludeBOE:       req.IncludeBOE,
		IncludeNews:      req.IncludeNews,
		IncludeRSS:       includeRSS,
		IncludeFinancial: req.IncludeFinancial,
	})
	if err != nil {
		var searchErr *domain.SearchError
		switch {
		case errors.Is(err, usecase.ErrInvalidRequest), errors.Is(err, domain.ErrNoSources):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case errors.As(err, &searchErr):
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "all sources failed", Errors: toSourceErrors(searchErr.Errors)})
		default:
			s.logger.Error("search failed", "request_id", requestID, "company", req.CompanyName, "err", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, toSearchResponse(requestID, assessment))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	signals := make([]domain.ClassifiedSignal, 0, len(req.ClassificationResults))
	for _, item := range req.ClassificationResults {
		signals = append(signals, toSignal(item))
	}

	result, err := s.assessor.Summarize(r.Context(), summary.Request{
		CompanyName:   req.CompanyName,
		Signals:       signals,
		PriorAttempts: req.AttemptCount,
	})
	if err != nil {
		var sumErr *domain.SummaryError
		switch {
		case errors.Is(err, usecase.ErrInvalidRequest):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case errors.As(err, &sumErr):
			s.logger.Warn("management summary failed", "company", req.CompanyName, "attempts", sumErr.Attempts, "err", err)
			writeJSON(w, http.StatusServiceUnavailable, summaryErrorResponse{
				Error:             err.Error(),
				Retryable:         sumErr.Retryable,
				MaxRetriesReached: sumErr.MaxRetriesReached,
				AttemptCount:      sumErr.Attempts,
			})
		case errors.Is(err, domain.ErrGeneratorUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, summaryErrorResponse{Error: err.Error(), AttemptCount: req.AttemptCount})
		default:
			s.logger.Error("management summary failed", "company", req.CompanyName, "err", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, toSummaryResponse(req.CompanyName, result))
}

// observe records request latency by route pattern and logs the request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(started)
		s.metrics.ObserveHTTP(route, strconv.Itoa(status), elapsed)
		s.logger.Debug("http request", "method", r.Method, "route", route, "status", status, "duration", elapsed)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package server exposes the verification engine over HTTP to the dashboard
// and API layer.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clearslip/clearslip/internal/config"
	"github.com/clearslip/clearslip/internal/model"
	"github.com/clearslip/clearslip/internal/store"
	"github.com/clearslip/clearslip/internal/verify"
)

// Server wires the decision engine into a chi router.
type Server struct {
	engine *verify.Engine
	cfg    config.ServerConfig
}

// New creates a Server around an engine.
func New(engine *verify.Engine, cfg config.ServerConfig) *Server {
	return &Server{engine: engine, cfg: cfg}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	if s.cfg.RateLimitRPS > 0 {
		r.Use(rateLimiter(rate.Limit(s.cfg.RateLimitRPS), s.cfg.RateLimitBurst))
	}

	r.Get("/health", s.handleHealth)
	r.Route("/api/verifications", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/pending", s.handlePending)
		r.Get("/stats", s.handleStats)
		r.Route("/{invoiceID}", func(r chi.Router) {
			r.Get("/audit", s.handleAudit)
			r.Post("/approve", s.handleAction(s.engine.Approve))
			r.Post("/reject", s.handleAction(s.engine.Reject))
			r.Post("/review", s.handleAction(s.engine.MarkForReview))
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	TenantID    string `json:"tenant_id"`
	CustomerID  string `json:"customer_id,omitempty"`
	InvoiceID   string `json:"invoice_id"`
	OCRText     string `json:"ocr_text"`
	ImageBase64 string `json:"image_base64,omitempty"`
	ImageMIME   string `json:"image_mime,omitempty"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" || req.InvoiceID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and invoice_id are required")
		return
	}
	amount := decimal.Zero
	if req.Amount != "" {
		var err error
		if amount, err = decimal.NewFromString(req.Amount); err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
	}

	var image []byte
	if req.ImageBase64 != "" {
		var err error
		if image, err = base64.StdEncoding.DecodeString(req.ImageBase64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid image encoding")
			return
		}
	}

	decision, err := s.engine.Submit(r.Context(), verify.Submission{
		TenantID:       req.TenantID,
		CustomerID:     req.CustomerID,
		InvoiceID:      req.InvoiceID,
		OCRText:        req.OCRText,
		Image:          image,
		ImageMIME:      req.ImageMIME,
		DeclaredAmount: amount,
		Currency:       req.Currency,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, decision)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	filter := store.PendingFilter{
		TenantID: r.URL.Query().Get("tenant_id"),
		Limit:    queryInt(r, "limit", 50),
		Skip:     queryInt(r, "skip", 0),
	}
	pending, err := s.engine.Pending(r.Context(), filter)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if pending == nil {
		pending = []model.PendingVerification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verifications": pending,
		"count":         len(pending),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "invoiceID")
	entries, err := s.engine.AuditTrail(r.Context(), invoiceID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []model.AuditTrailEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invoice_id": invoiceID,
		"entries":    entries,
	})
}

type actionRequest struct {
	Notes string `json:"notes,omitempty"`
}

type actionFunc func(ctx context.Context, invoiceID, actor, notes string) (*verify.ActionResult, error)

func (s *Server) handleAction(action actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoiceID := chi.URLParam(r, "invoiceID")

		var req actionRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		actor := r.Header.Get("X-User")
		if actor == "" {
			actor = "operator"
		}

		result, err := action(r.Context(), invoiceID, actor, req.Notes)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 0)
	stats, err := s.engine.Stats(r.Context(), days)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeEngineError maps domain errors onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "invoice not found")
	case eris.Is(err, verify.ErrInvalidTransition), eris.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// requestLogger logs each request with method, path, status and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// rateLimiter applies a shared token bucket across all requests.
func rateLimiter(limit rate.Limit, burst int) func(http.Handler) http.Handler {
	if burst <= 0 {
		burst = int(limit)
		if burst <= 0 {
			burst = 1
		}
	}
	limiter := rate.NewLimiter(limit, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Package verify implements the verification decision engine: the
// pending/verified/rejected/manual_review state machine, confidence scoring,
// the manual-action surface and the audit trail it feeds.
package verify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/clearslip/clearslip/internal/bank"
	"github.com/clearslip/clearslip/internal/config"
	"github.com/clearslip/clearslip/internal/model"
	"github.com/clearslip/clearslip/internal/ocr"
	"github.com/clearslip/clearslip/internal/pattern"
	"github.com/clearslip/clearslip/internal/resilience"
	"github.com/clearslip/clearslip/internal/store"
)

// Engine turns a submitted screenshot into a status transition and owns all
// manual transitions thereafter. Every transition appends exactly one audit
// entry.
type Engine struct {
	store     store.Store
	registry  *bank.Registry
	patterns  *pattern.Service
	extractor ocr.Extractor
	cfg       config.VerificationConfig
	retry     resilience.RetryConfig
}

// NewEngine creates a decision engine. Thresholds come from cfg, never from
// package state.
func NewEngine(st store.Store, registry *bank.Registry, patterns *pattern.Service, cfg config.VerificationConfig) *Engine {
	return &Engine{
		store:    st,
		registry: registry,
		patterns: patterns,
		cfg:      cfg,
		retry:    resilience.DefaultRetryConfig(),
	}
}

// WithExtractor attaches an OCR extractor for submissions carrying image
// bytes instead of text.
func (e *Engine) WithExtractor(x ocr.Extractor) *Engine {
	e.extractor = x
	return e
}

// Submission is a new screenshot entering the pipeline.
type Submission struct {
	TenantID       string
	CustomerID     string
	InvoiceID      string
	OCRText        string
	Image          []byte
	ImageMIME      string
	DeclaredAmount decimal.Decimal
	Currency       string
}

// Decision is the outcome of processing one screenshot.
type Decision struct {
	InvoiceID    string                   `json:"invoice_id"`
	Status       model.VerificationStatus `json:"status"`
	Score        float64                  `json:"confidence_score"`
	Method       model.VerificationMethod `json:"verification_method"`
	BankCode     string                   `json:"bank_code"`
	Recipient    string                   `json:"recipient,omitempty"`
	Account      string                   `json:"account,omitempty"`
	AutoVerified bool                     `json:"auto_verified"`
}

// Submit stores a new pending screenshot and runs the decision path on it.
func (e *Engine) Submit(ctx context.Context, sub Submission) (*Decision, error) {
	if sub.TenantID == "" || sub.InvoiceID == "" {
		return nil, eris.New("engine: tenant and invoice required")
	}

	if sub.OCRText == "" && len(sub.Image) > 0 {
		if e.extractor == nil {
			return nil, eris.New("engine: image submitted but no OCR extractor configured")
		}
		text, err := e.extractor.ExtractText(ctx, sub.Image, sub.ImageMIME)
		if err != nil {
			return nil, eris.Wrap(err, "engine: extract image text")
		}
		sub.OCRText = text
	}

	now := time.Now().UTC()
	sc := &model.PaymentScreenshot{
		ID:             uuid.New().String(),
		TenantID:       sub.TenantID,
		CustomerID:     sub.CustomerID,
		InvoiceID:      sub.InvoiceID,
		OCRText:        sub.OCRText,
		DeclaredAmount: sub.DeclaredAmount,
		Currency:       sub.Currency,
		Status:         model.StatusPending,
		UploadedAt:     now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateScreenshot(ctx, sc); err != nil {
		return nil, eris.Wrap(err, "engine: create screenshot")
	}
	return e.Process(ctx, sc)
}

// Process runs detection, extraction, historical lookup and scoring on a
// pending screenshot and applies the resulting transition. Detection or
// extraction coming up empty is not an error: the screenshot degrades to
// manual review. Only storage failures are surfaced.
func (e *Engine) Process(ctx context.Context, sc *model.PaymentScreenshot) (*Decision, error) {
	log := zap.L().With(
		zap.String("invoice_id", sc.InvoiceID),
		zap.String("tenant_id", sc.TenantID),
	)

	code, known := e.registry.Detect(sc.OCRText)
	var extraction bank.Extraction
	if known {
		extraction = e.registry.Extract(code, sc.OCRText)
	}

	var historical *model.RecipientPattern
	if known && !extraction.Empty() && sc.CustomerID != "" {
		match, err := e.patterns.Lookup(ctx, sc.TenantID, sc.CustomerID, extraction.Recipient, extraction.Account)
		if err != nil {
			// History is an optimization; without it the screenshot still
			// routes safely to manual review.
			log.Warn("pattern lookup failed", zap.Error(err))
		} else {
			historical = match
		}
	}

	score, method := Score(extraction, historical)

	decision := &Decision{
		InvoiceID: sc.InvoiceID,
		Status:    model.StatusManualReview,
		Score:     score,
		Method:    method,
		BankCode:  code,
		Recipient: extraction.Recipient,
		Account:   extraction.Account,
	}
	action := model.ActionManualReview

	// Auto-verify requires a known bank and a high-confidence score; when the
	// score came from history, the pattern must also have been seen often
	// enough to trust.
	if known &&
		score >= e.cfg.HighConfidenceThreshold &&
		(historical == nil || historical.OccurrenceCount >= e.cfg.AutoApproveThreshold) {
		decision.Status = model.StatusVerified
		decision.AutoVerified = true
		action = model.ActionAutoVerify
	}

	update := store.DecisionUpdate{
		BankName:        e.registry.Name(code),
		Recipient:       extraction.Recipient,
		Account:         extraction.Account,
		ConfidenceScore: &score,
	}
	if !known {
		update.BankName = ""
	}

	err := resilience.Do(ctx, e.withRetryLog("apply_decision"), func(ctx context.Context) error {
		return e.store.ApplyDecision(ctx, sc.InvoiceID, model.StatusPending, decision.Status, update)
	})
	if err != nil {
		return nil, eris.Wrap(err, "engine: apply decision")
	}

	e.appendAudit(ctx, &model.AuditTrailEntry{
		InvoiceID:       sc.InvoiceID,
		Action:          action,
		PreviousStatus:  model.StatusPending,
		NewStatus:       decision.Status,
		ConfidenceScore: &score,
		VerifiedBy:      model.SystemActor,
		Method:          method,
	})

	if decision.AutoVerified {
		// An auto-verified payment is a confirmed sighting: reinforce the
		// pattern that justified it.
		if _, err := e.patterns.RecordVerifiedPayment(ctx, sc.TenantID, sc.CustomerID,
			extraction.Recipient, extraction.Account, update.BankName, sc.DeclaredAmount); err != nil {
			log.Warn("pattern reinforcement failed", zap.Error(err))
		}
	}

	log.Info("screenshot processed",
		zap.String("bank", code),
		zap.Float64("score", score),
		zap.String("status", string(decision.Status)),
	)
	return decision, nil
}

// ActionResult is returned by the manual-action endpoints.
type ActionResult struct {
	Success   bool                     `json:"success"`
	Message   string                   `json:"message"`
	InvoiceID string                   `json:"invoice_id"`
	NewStatus model.VerificationStatus `json:"new_status"`
}

// Approve marks an invoice verified by human action and feeds the confirmed
// (recipient, account) pair back into the pattern store so future payments to
// the same recipient can auto-verify.
func (e *Engine) Approve(ctx context.Context, invoiceID, actor, notes string) (*ActionResult, error) {
	sc, err := e.manualTransition(ctx, invoiceID, actor, notes, model.StatusVerified, model.ActionManualApprove)
	if err != nil {
		return nil, err
	}

	if sc.CustomerID != "" && (sc.Recipient != "" || sc.Account != "") {
		if _, err := e.patterns.RecordVerifiedPayment(ctx, sc.TenantID, sc.CustomerID,
			sc.Recipient, sc.Account, sc.BankName, sc.DeclaredAmount); err != nil {
			// The approval is already committed; learning is best-effort.
			zap.L().Warn("pattern learning failed after approval",
				zap.String("invoice_id", invoiceID),
				zap.Error(err),
			)
		}
	}

	return &ActionResult{
		Success:   true,
		Message:   "payment approved",
		InvoiceID: invoiceID,
		NewStatus: model.StatusVerified,
	}, nil
}

// Reject marks an invoice rejected by human action and records the rejection
// against the matched pattern for later analysis.
func (e *Engine) Reject(ctx context.Context, invoiceID, actor, notes string) (*ActionResult, error) {
	sc, err := e.manualTransition(ctx, invoiceID, actor, notes, model.StatusRejected, model.ActionManualReject)
	if err != nil {
		return nil, err
	}

	if sc.CustomerID != "" && (sc.Recipient != "" || sc.Account != "") {
		if err := e.patterns.RecordRejectedPayment(ctx, sc.TenantID, sc.CustomerID, sc.Recipient, sc.Account); err != nil {
			zap.L().Warn("rejection bookkeeping failed",
				zap.String("invoice_id", invoiceID),
				zap.Error(err),
			)
		}
	}

	return &ActionResult{
		Success:   true,
		Message:   "payment rejected",
		InvoiceID: invoiceID,
		NewStatus: model.StatusRejected,
	}, nil
}

// MarkForReview moves a pending invoice into the manual review queue.
func (e *Engine) MarkForReview(ctx context.Context, invoiceID, actor, notes string) (*ActionResult, error) {
	if _, err := e.manualTransition(ctx, invoiceID, actor, notes, model.StatusManualReview, model.ActionManualReview); err != nil {
		return nil, err
	}
	return &ActionResult{
		Success:   true,
		Message:   "payment marked for review",
		InvoiceID: invoiceID,
		NewStatus: model.StatusManualReview,
	}, nil
}

// manualTransition applies the shared guard for human actions: the invoice
// must exist and must not already be terminal. The status read here is the
// compare-and-swap expectation for the write; a concurrent finalizer makes
// the write fail with ErrConflict instead of double-recording.
func (e *Engine) manualTransition(ctx context.Context, invoiceID, actor, notes string, next model.VerificationStatus, action model.VerificationAction) (*model.PaymentScreenshot, error) {
	sc, err := e.store.GetScreenshotByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if sc.Status.Terminal() {
		return nil, eris.Wrapf(ErrInvalidTransition, "invoice %s is already %s", invoiceID, sc.Status)
	}

	err = resilience.Do(ctx, e.withRetryLog("update_status"), func(ctx context.Context) error {
		return e.store.UpdateStatus(ctx, invoiceID, sc.Status, next)
	})
	if err != nil {
		return nil, err
	}

	e.appendAudit(ctx, &model.AuditTrailEntry{
		InvoiceID:      invoiceID,
		Action:         action,
		PreviousStatus: sc.Status,
		NewStatus:      next,
		VerifiedBy:     actor,
		Method:         model.MethodManual,
		Notes:          notes,
	})
	return sc, nil
}

// appendAudit writes one immutable trail entry with retry. A transition that
// committed but could not be audited is logged loudly rather than rolled
// back: the status change is the source of truth, the trail its record.
func (e *Engine) appendAudit(ctx context.Context, entry *model.AuditTrailEntry) {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()

	err := resilience.Do(ctx, e.withRetryLog("append_audit"), func(ctx context.Context) error {
		return e.store.AppendAudit(ctx, entry)
	})
	if err != nil {
		zap.L().Error("audit append failed",
			zap.String("invoice_id", entry.InvoiceID),
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
	}
}

// AuditTrail returns the invoice's trail, oldest first.
func (e *Engine) AuditTrail(ctx context.Context, invoiceID string) ([]model.AuditTrailEntry, error) {
	if _, err := e.store.GetScreenshotByInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return e.store.ListAudit(ctx, invoiceID)
}

// Pending lists screenshots awaiting a decision or a human.
func (e *Engine) Pending(ctx context.Context, filter store.PendingFilter) ([]model.PendingVerification, error) {
	return e.store.ListPending(ctx, filter)
}

// Stats aggregates the audit trail over a rolling window of whole days. It
// is a pure read: nothing in the trail or the pattern store is touched.
func (e *Engine) Stats(ctx context.Context, days int) (*model.VerificationStats, error) {
	if days <= 0 {
		days = e.cfg.StatsWindowDays
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	buckets, err := e.store.StatsSince(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "engine: stats")
	}

	stats := &model.VerificationStats{
		WindowDays: days,
		Breakdown:  buckets,
	}
	var confSum float64
	var confCount int
	for _, b := range buckets {
		stats.TotalVerifications += b.Count
		switch b.Action {
		case model.ActionAutoVerify:
			stats.AutoVerified += b.Count
		case model.ActionManualApprove, model.ActionManualReject, model.ActionManualReview:
			stats.ManualActions += b.Count
		}
		if b.AvgConfidence != nil {
			confSum += *b.AvgConfidence * float64(b.Count)
			confCount += b.Count
		}
	}
	if confCount > 0 {
		avg := confSum / float64(confCount)
		stats.AvgConfidence = &avg
	}
	return stats, nil
}

func (e *Engine) withRetryLog(operation string) resilience.RetryConfig {
	cfg := e.retry
	cfg.OnRetry = resilience.RetryLogger(operation)
	return cfg
}

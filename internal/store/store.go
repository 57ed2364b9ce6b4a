// Package store defines the persistence interface for the verification
// engine and its SQLite and Postgres implementations.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/clearslip/clearslip/internal/model"
)

// Sentinel errors shared by both backends. Callers test with eris.Is.
var (
	// ErrNotFound means the referenced invoice or record does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict means a compare-and-swap status update lost a race: the
	// status read before the write was no longer current.
	ErrConflict = eris.New("store: status conflict")
)

// PendingFilter selects screenshots for the review queue listing.
type PendingFilter struct {
	TenantID string `json:"tenant_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Skip     int    `json:"skip,omitempty"`
}

// DecisionUpdate carries the OCR-derived fields written alongside an engine
// decision.
type DecisionUpdate struct {
	BankName        string
	Recipient       string
	Account         string
	ConfidenceScore *float64
}

// Store is the persistence surface of the verification engine. Status
// updates are compare-and-swap: they apply only if the screenshot still has
// the expected status, otherwise ErrConflict (or ErrNotFound) is returned.
type Store interface {
	// Screenshots
	CreateScreenshot(ctx context.Context, s *model.PaymentScreenshot) error
	GetScreenshotByInvoice(ctx context.Context, invoiceID string) (*model.PaymentScreenshot, error)
	ListPending(ctx context.Context, filter PendingFilter) ([]model.PendingVerification, error)
	// ApplyDecision transitions status and records the decision fields.
	ApplyDecision(ctx context.Context, invoiceID string, expected, next model.VerificationStatus, update DecisionUpdate) error
	// UpdateStatus transitions status without touching decision fields.
	UpdateStatus(ctx context.Context, invoiceID string, expected, next model.VerificationStatus) error

	// Audit trail (append-only)
	AppendAudit(ctx context.Context, entry *model.AuditTrailEntry) error
	ListAudit(ctx context.Context, invoiceID string) ([]model.AuditTrailEntry, error)
	StatsSince(ctx context.Context, since time.Time) ([]model.StatsBucket, error)

	// Customer patterns
	GetCustomerPattern(ctx context.Context, tenantID, customerID string) (*model.CustomerPattern, error)
	UpsertCustomerPattern(ctx context.Context, cp *model.CustomerPattern) error

	// Calibration snapshot reads
	ListVerifiedTenants(ctx context.Context) ([]string, error)
	ListVerifiedScreenshots(ctx context.Context, tenantID string) ([]model.PaymentScreenshot, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecipientPattern is a learned (recipient name, account) pair for one
// customer, together with its occurrence bookkeeping. Confidence and
// AutoApprove are derived from the counts by the pattern service and are
// never set directly by callers.
type RecipientPattern struct {
	ExtractedName    string    `json:"extracted_name"`
	ExtractedAccount string    `json:"extracted_account,omitempty"`
	OccurrenceCount  int       `json:"occurrence_count"`
	ApprovalCount    int       `json:"approval_count"`
	RejectionCount   int       `json:"rejection_count"`
	Confidence       float64   `json:"confidence"`
	AutoApprove      bool      `json:"auto_approve"`
	BankName         string    `json:"bank_name,omitempty"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
}

// CustomerPattern aggregates everything learned about one customer's
// confirmed payments. Keyed by (TenantID, CustomerID); never deleted, only
// superseded by calibration re-runs.
type CustomerPattern struct {
	TenantID   string             `json:"tenant_id"`
	CustomerID string             `json:"customer_id"`
	Patterns   []RecipientPattern `json:"patterns"`
	// ObservedAmounts is retained for future amount-based heuristics; it does
	// not participate in scoring.
	ObservedAmounts []decimal.Decimal `json:"observed_amounts,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

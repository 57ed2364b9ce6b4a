package model

import "time"

// VerificationAction classifies who or what moved a screenshot between
// statuses.
type VerificationAction string

const (
	ActionAutoVerify    VerificationAction = "auto_verify"
	ActionManualApprove VerificationAction = "manual_approve"
	ActionManualReject  VerificationAction = "manual_reject"
	ActionManualReview  VerificationAction = "manual_review"
)

// VerificationMethod records which signal justified a transition.
type VerificationMethod string

const (
	MethodPatternMatch VerificationMethod = "pattern_match"
	MethodBankFormat   VerificationMethod = "bank_format"
	MethodManual       VerificationMethod = "manual"
)

// SystemActor is the VerifiedBy identity for engine-initiated transitions.
const SystemActor = "system"

// AuditTrailEntry is one immutable record of a status transition. Entries are
// append-only: once written they are never edited or deleted.
type AuditTrailEntry struct {
	ID              string             `json:"id"`
	InvoiceID       string             `json:"invoice_id"`
	Action          VerificationAction `json:"action"`
	PreviousStatus  VerificationStatus `json:"previous_status"`
	NewStatus       VerificationStatus `json:"new_status"`
	ConfidenceScore *float64           `json:"confidence_score,omitempty"`
	VerifiedBy      string             `json:"verified_by"`
	Method          VerificationMethod `json:"verification_method"`
	Notes           string             `json:"notes,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// StatsBucket is one (action, method) cell of the stats rollup.
type StatsBucket struct {
	Action        VerificationAction `json:"action"`
	Method        VerificationMethod `json:"verification_method"`
	Count         int                `json:"count"`
	AvgConfidence *float64           `json:"avg_confidence,omitempty"`
}

// VerificationStats is the derived operator rollup over a rolling window. It
// is computed from the audit trail on demand and never stored as a source of
// truth.
type VerificationStats struct {
	WindowDays         int           `json:"window_days"`
	TotalVerifications int           `json:"total_verifications"`
	AutoVerified       int           `json:"auto_verified"`
	ManualActions      int           `json:"manual_actions"`
	AvgConfidence      *float64      `json:"avg_confidence,omitempty"`
	Breakdown          []StatsBucket `json:"breakdown"`
}

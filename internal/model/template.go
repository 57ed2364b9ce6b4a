package model

import "time"

// FieldType identifies which screenshot field an extraction pattern targets.
type FieldType string

const (
	FieldRecipient FieldType = "recipient"
	FieldAccount   FieldType = "account"
)

// ExtractionPattern is one regex a bank template applies to OCR text.
// Patterns with a lower Priority number are tried first; the first non-empty
// capture wins. CaptureGroup defaults to 1 when zero.
type ExtractionPattern struct {
	Regex        string  `json:"regex" yaml:"regex"`
	Confidence   float64 `json:"confidence" yaml:"confidence"`
	Priority     int     `json:"priority" yaml:"priority"`
	CaptureGroup int     `json:"capture_group,omitempty" yaml:"capture_group,omitempty"`
}

// BankTemplate is the detection and extraction catalog entry for one bank's
// transfer-confirmation layout. Templates are immutable once published; a
// re-calibration replaces the entry wholesale under a new catalog version.
type BankTemplate struct {
	Code      string              `json:"code" yaml:"code"`
	Name      string              `json:"name" yaml:"name"`
	Keywords  []string            `json:"keywords" yaml:"keywords"`
	Recipient []ExtractionPattern `json:"recipient" yaml:"recipient"`
	Account   []ExtractionPattern `json:"account" yaml:"account"`
}

// TemplateCatalog is a versioned, re-publishable set of bank templates.
// Registration order is significant: bank detection ties resolve to the
// first-listed template.
type TemplateCatalog struct {
	Version     int            `json:"version" yaml:"version"`
	PublishedAt time.Time      `json:"published_at" yaml:"published_at"`
	Templates   []BankTemplate `json:"templates" yaml:"templates"`
}

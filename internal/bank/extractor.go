package bank

import "strings"

// Extraction is the result of applying a bank template to OCR text. Absent
// fields are empty strings; absence is a normal outcome, not an error, and
// routes the screenshot to manual review downstream.
type Extraction struct {
	Recipient           string  `json:"recipient,omitempty"`
	Account             string  `json:"account,omitempty"`
	RecipientConfidence float64 `json:"recipient_confidence,omitempty"`
	AccountConfidence   float64 `json:"account_confidence,omitempty"`
}

// HasRecipient reports whether a recipient name was captured.
func (e Extraction) HasRecipient() bool { return e.Recipient != "" }

// HasAccount reports whether an account number was captured.
func (e Extraction) HasAccount() bool { return e.Account != "" }

// Empty reports whether nothing at all was captured.
func (e Extraction) Empty() bool { return e.Recipient == "" && e.Account == "" }

// BestConfidence returns the strongest declared confidence among the captured
// fields, zero when nothing was captured.
func (e Extraction) BestConfidence() float64 {
	if e.RecipientConfidence >= e.AccountConfidence {
		return e.RecipientConfidence
	}
	return e.AccountConfidence
}

// Extract applies the named bank's patterns to OCR text. Recipient and
// account patterns run independently, each in ascending priority order; the
// first non-empty capture wins. Recipient captures are trimmed and
// upper-cased; account captures additionally drop whitespace and hyphens.
// An unregistered code yields an empty Extraction.
func (r *Registry) Extract(code, ocrText string) Extraction {
	i, ok := r.byCode[code]
	if !ok {
		return Extraction{}
	}
	t := r.templates[i]

	var out Extraction
	if value, conf, ok := firstCapture(t.recipient, ocrText); ok {
		out.Recipient = strings.ToUpper(strings.TrimSpace(value))
		out.RecipientConfidence = conf
	}
	if value, conf, ok := firstCapture(t.account, ocrText); ok {
		out.Account = NormalizeAccount(value)
		out.AccountConfidence = conf
	}
	return out
}

func firstCapture(patterns []compiledPattern, text string) (string, float64, bool) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil || p.captureGroup >= len(m) {
			continue
		}
		if captured := strings.TrimSpace(m[p.captureGroup]); captured != "" {
			return captured, p.confidence, true
		}
	}
	return "", 0, false
}

// NormalizeAccount strips whitespace and hyphens so account numbers compare
// by digits alone.
func NormalizeAccount(account string) string {
	var b strings.Builder
	b.Grow(len(account))
	for _, r := range account {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

package bank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearslip/clearslip/internal/model"
)

func testCatalog() model.TemplateCatalog {
	return model.TemplateCatalog{
		Version: 1,
		Templates: []model.BankTemplate{
			{
				Code:     "ALPHA",
				Name:     "Alpha Bank",
				Keywords: []string{"alpha", "alpha pay"},
				Recipient: []model.ExtractionPattern{
					{Regex: `(?i)to[:\s]+([A-Za-z ]+)`, Confidence: 0.7, Priority: 2},
					{Regex: `(?i)transfer to[:\s]+([A-Za-z ]+)`, Confidence: 0.9, Priority: 1},
				},
				Account: []model.ExtractionPattern{
					{Regex: `(?i)account[:\s]+(\d[\d \-]{4,})`, Confidence: 0.8, Priority: 1},
				},
			},
			{
				Code:     "BETA",
				Name:     "Beta Bank",
				Keywords: []string{"beta"},
				Recipient: []model.ExtractionPattern{
					{Regex: `(?i)receiver[:\s]+([A-Za-z ]+)`, Confidence: 0.8, Priority: 1},
				},
			},
		},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(testCatalog())
	require.NoError(t, err)
	return r
}

func TestNewRegistry_RejectsEmptyCode(t *testing.T) {
	_, err := NewRegistry(model.TemplateCatalog{
		Templates: []model.BankTemplate{{Name: "No Code"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty code")
}

func TestNewRegistry_RejectsDuplicateCode(t *testing.T) {
	_, err := NewRegistry(model.TemplateCatalog{
		Templates: []model.BankTemplate{
			{Code: "DUP", Keywords: []string{"a"}},
			{Code: "DUP", Keywords: []string{"b"}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate template code DUP")
}

func TestNewRegistry_RejectsInvalidRegex(t *testing.T) {
	_, err := NewRegistry(model.TemplateCatalog{
		Templates: []model.BankTemplate{
			{Code: "BAD", Recipient: []model.ExtractionPattern{{Regex: `([unclosed`}}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile")
}

func TestNewRegistry_RejectsMissingCaptureGroup(t *testing.T) {
	_, err := NewRegistry(model.TemplateCatalog{
		Templates: []model.BankTemplate{
			{Code: "NOGROUP", Recipient: []model.ExtractionPattern{{Regex: `no capture here`}}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capture group")
}

func TestRegistry_Codes(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, []string{"ALPHA", "BETA"}, r.Codes())
	assert.Equal(t, 1, r.Version())
}

func TestRegistry_Name(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, "Alpha Bank", r.Name("ALPHA"))
	assert.Equal(t, "NOPE", r.Name("NOPE"))
}

func TestDetect_KeywordScoring(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name     string
		text     string
		wantCode string
		wantOK   bool
	}{
		{"single keyword", "Payment via Beta bank", "BETA", true},
		{"case insensitive", "ALPHA PAY receipt", "ALPHA", true},
		{"longer keyword sum wins", "alpha pay vs beta", "ALPHA", true},
		{"no keyword", "generic transfer receipt", "UNKNOWN", false},
		{"empty text", "", "UNKNOWN", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := r.Detect(tt.text)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestDetect_Deterministic(t *testing.T) {
	r := newTestRegistry(t)
	text := "alpha pay and beta both mentioned"
	first, _ := r.Detect(text)
	for i := 0; i < 10; i++ {
		code, _ := r.Detect(text)
		assert.Equal(t, first, code)
	}
}

func TestDetect_TieResolvesToFirstRegistered(t *testing.T) {
	r, err := NewRegistry(model.TemplateCatalog{
		Templates: []model.BankTemplate{
			{Code: "FIRST", Keywords: []string{"fintech"}},
			{Code: "SECOND", Keywords: []string{"payment"}},
		},
	})
	require.NoError(t, err)

	// Both keywords are 7 characters: equal scores.
	code, ok := r.Detect("fintech payment receipt")
	assert.True(t, ok)
	assert.Equal(t, "FIRST", code)
}

func TestExtract_PriorityOrder(t *testing.T) {
	r := newTestRegistry(t)

	// Both ALPHA recipient patterns match; priority 1 must win even though it
	// is listed second in the catalog.
	ext := r.Extract("ALPHA", "Transfer to: John Smith")
	assert.Equal(t, "JOHN SMITH", ext.Recipient)
	assert.InDelta(t, 0.9, ext.RecipientConfidence, 1e-9)
}

func TestExtract_FallsBackToLowerPriority(t *testing.T) {
	r := newTestRegistry(t)

	ext := r.Extract("ALPHA", "Paid to: Jane Doe")
	assert.Equal(t, "JANE DOE", ext.Recipient)
	assert.InDelta(t, 0.7, ext.RecipientConfidence, 1e-9)
}

func TestExtract_AccountNormalized(t *testing.T) {
	r := newTestRegistry(t)

	ext := r.Extract("ALPHA", "Account: 123 456-789")
	assert.Equal(t, "123456789", ext.Account)
	assert.InDelta(t, 0.8, ext.AccountConfidence, 1e-9)
}

func TestExtract_UnknownCode(t *testing.T) {
	r := newTestRegistry(t)
	ext := r.Extract("NOPE", "Transfer to: John Smith")
	assert.True(t, ext.Empty())
}

func TestExtract_NoMatchIsNotAnError(t *testing.T) {
	r := newTestRegistry(t)
	ext := r.Extract("BETA", "nothing useful in here")
	assert.True(t, ext.Empty())
	assert.False(t, ext.HasRecipient())
	assert.False(t, ext.HasAccount())
	assert.Zero(t, ext.BestConfidence())
}

func TestExtract_DefaultCatalogABAScenario(t *testing.T) {
	r, err := NewRegistry(DefaultCatalog())
	require.NoError(t, err)

	text := "ABA Bank receipt\nTransfer to: John Smith\nAccount: 123 456 789\nAmount: 150.00 USD"
	code, ok := r.Detect(text)
	require.True(t, ok)
	assert.Equal(t, "ABA", code)

	ext := r.Extract(code, text)
	assert.Equal(t, "JOHN SMITH", ext.Recipient)
	assert.Equal(t, "123456789", ext.Account)
}

func TestExtraction_BestConfidence(t *testing.T) {
	e := Extraction{RecipientConfidence: 0.7, AccountConfidence: 0.85}
	assert.InDelta(t, 0.85, e.BestConfidence(), 1e-9)

	e = Extraction{RecipientConfidence: 0.9, AccountConfidence: 0.5}
	assert.InDelta(t, 0.9, e.BestConfidence(), 1e-9)
}

func TestNormalizeAccount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123 456 789", "123456789"},
		{"123-456-789", "123456789"},
		{" 123\t456\n789 ", "123456789"},
		{"", ""},
		{"000123", "000123"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeAccount(tt.in))
	}
}

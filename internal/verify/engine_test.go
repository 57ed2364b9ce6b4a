package verify

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearslip/clearslip/internal/bank"
	"github.com/clearslip/clearslip/internal/config"
	"github.com/clearslip/clearslip/internal/model"
	"github.com/clearslip/clearslip/internal/pattern"
	"github.com/clearslip/clearslip/internal/store"
)

func testVerificationConfig() config.VerificationConfig {
	return config.VerificationConfig{
		AutoApproveThreshold:    3,
		HighConfidenceThreshold: 0.8,
		MinPatternCount:         5,
		BaseConfidence:          0.6,
		ConfidenceStep:          0.05,
		ConfidenceSpan:          0.35,
		ConfidenceCap:           0.95,
		StatsWindowDays:         30,
	}
}

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	registry, err := bank.NewRegistry(bank.DefaultCatalog())
	require.NoError(t, err)

	cfg := testVerificationConfig()
	patterns := pattern.NewService(st, cfg)
	return NewEngine(st, registry, patterns, cfg), st
}

const abaText = "ABA Bank\nTransfer to: John Smith\nAccount: 123 456 789\nAmount: 150.00 USD"

func submission(invoiceID, ocrText string) Submission {
	return Submission{
		TenantID:       "t1",
		CustomerID:     "c1",
		InvoiceID:      invoiceID,
		OCRText:        ocrText,
		DeclaredAmount: decimal.RequireFromString("150.00"),
		Currency:       "USD",
	}
}

func TestSubmit_RequiresTenantAndInvoice(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Submit(context.Background(), Submission{InvoiceID: "inv-1"})
	require.Error(t, err)
	_, err = e.Submit(context.Background(), Submission{TenantID: "t1"})
	require.Error(t, err)
}

func TestSubmit_UnknownBankRoutesToManualReview(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	d, err := e.Submit(ctx, submission("inv-1", "some unrecognizable receipt text"))
	require.NoError(t, err)

	assert.Equal(t, model.StatusManualReview, d.Status)
	assert.Equal(t, bank.UnknownBank, d.BankCode)
	assert.Zero(t, d.Score)
	assert.False(t, d.AutoVerified)

	sc, err := st.GetScreenshotByInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusManualReview, sc.Status)
	assert.Empty(t, sc.BankName)

	trail, err := st.ListAudit(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, model.ActionManualReview, trail[0].Action)
	assert.Equal(t, model.SystemActor, trail[0].VerifiedBy)
}

func TestSubmit_KnownBankHighExtractionAutoVerifies(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	d, err := e.Submit(ctx, submission("inv-1", abaText))
	require.NoError(t, err)

	assert.Equal(t, model.StatusVerified, d.Status)
	assert.True(t, d.AutoVerified)
	assert.Equal(t, "ABA", d.BankCode)
	assert.Equal(t, model.MethodBankFormat, d.Method)
	assert.InDelta(t, 0.85, d.Score, 1e-9)
	assert.Equal(t, "JOHN SMITH", d.Recipient)
	assert.Equal(t, "123456789", d.Account)

	sc, err := st.GetScreenshotByInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusVerified, sc.Status)
	assert.Equal(t, "ABA Bank", sc.BankName)

	trail, err := st.ListAudit(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, model.ActionAutoVerify, trail[0].Action)
	assert.Equal(t, model.MethodBankFormat, trail[0].Method)

	// The confirmed sighting seeded the customer's pattern history.
	cp, err := st.GetCustomerPattern(ctx, "t1", "c1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.Len(t, cp.Patterns, 1)
	assert.Equal(t, "JOHN SMITH", cp.Patterns[0].ExtractedName)
}

func TestSubmit_LowExtractionConfidenceRoutesToReview(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	// Canadia's generic "To:" pattern carries confidence 0.6, below the 0.8
	// auto-verify bar.
	text := "Canadia Bank\nTo: Jane Doe"
	d, err := e.Submit(ctx, submission("inv-1", text))
	require.NoError(t, err)

	assert.Equal(t, model.StatusManualReview, d.Status)
	assert.Equal(t, "CANADIA", d.BankCode)
	assert.InDelta(t, 0.6, d.Score, 1e-9)
	assert.False(t, d.AutoVerified)

	sc, err := st.GetScreenshotByInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusManualReview, sc.Status)
}

func TestSubmit_HistoricalPatternGatesOnOccurrences(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	// Seed history below the occurrence threshold but already matching.
	cp := &model.CustomerPattern{
		TenantID:   "t1",
		CustomerID: "c1",
		Patterns: []model.RecipientPattern{
			{ExtractedName: "JOHN SMITH", ExtractedAccount: "123456789", OccurrenceCount: 2, Confidence: 0.95},
		},
	}
	require.NoError(t, st.UpsertCustomerPattern(ctx, cp))

	d, err := e.Submit(ctx, submission("inv-1", abaText))
	require.NoError(t, err)

	// Historical score wins (0.95) but 2 occurrences < threshold 3.
	assert.Equal(t, model.StatusManualReview, d.Status)
	assert.Equal(t, model.MethodPatternMatch, d.Method)
	assert.InDelta(t, 0.95, d.Score, 1e-9)
	assert.False(t, d.AutoVerified)
}

func TestSubmit_HistoricalPatternAutoVerifies(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	cp := &model.CustomerPattern{
		TenantID:   "t1",
		CustomerID: "c1",
		Patterns: []model.RecipientPattern{
			{ExtractedName: "JOHN SMITH", ExtractedAccount: "123456789", OccurrenceCount: 4, Confidence: 0.8, AutoApprove: true},
		},
	}
	require.NoError(t, st.UpsertCustomerPattern(ctx, cp))

	d, err := e.Submit(ctx, submission("inv-1", abaText))
	require.NoError(t, err)

	assert.Equal(t, model.StatusVerified, d.Status)
	assert.True(t, d.AutoVerified)
	assert.Equal(t, model.MethodPatternMatch, d.Method)
	assert.InDelta(t, 0.8, d.Score, 1e-9)

	// Reinforcement incremented the pattern.
	got, err := st.GetCustomerPattern(ctx, "t1", "c1")
	require.NoError(t, err)
	require.Len(t, got.Patterns, 1)
	assert.Equal(t, 5, got.Patterns[0].OccurrenceCount)
}

func TestSubmit_DuplicateInvoiceFails(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Submit(ctx, submission("inv-1", abaText))
	require.NoError(t, err)
	_, err = e.Submit(ctx, submission("inv-1", abaText))
	require.Error(t, err)
}

func TestApprove_FromManualReview(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Submit(ctx, submission("inv-1", "Canadia Bank\nTo: Jane Doe"))
	require.NoError(t, err)

	res, err := e.Approve(ctx, "inv-1", "ops@example.com", "checked against bank statement")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, model.StatusVerified, res.NewStatus)

	sc, err := st.GetScreenshotByInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusVerified, sc.Status)

	trail, err := st.ListAudit(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, model.ActionManualApprove, trail[1].Action)
	assert.Equal(t, "ops@example.com", trail[1].VerifiedBy)
	assert.Equal(t, model.MethodManual, trail[1].Method)
	assert.Equal(t, "checked against bank statement", trail[1].Notes)

	// Manual approval is the feedback loop: the pattern store learned.
	cp, err := st.GetCustomerPattern(ctx, "t1", "c1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.Len(t, cp.Patterns, 1)
	assert.Equal(t, "JANE DOE", cp.Patterns[0].ExtractedName)
	assert.Equal(t, 1, cp.Patterns[0].OccurrenceCount)
}

func TestReject_RecordsRejection(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	// Build history first so the rejection has a pattern to count against.
	_, err := e.Submit(ctx, submission("inv-1", "Canadia Bank\nTo: Jane Doe"))
	require.NoError(t, err)
	_, err = e.Approve(ctx, "inv-1", "ops", "")
	require.NoError(t, err)

	_, err = e.Submit(ctx, Submission{
		TenantID: "t1", CustomerID: "c1", InvoiceID: "inv-2",
		OCRText: "Canadia Bank\nTo: Jane Doe", DeclaredAmount: decimal.Zero,
	})
	require.NoError(t, err)

	res, err := e.Reject(ctx, "inv-2", "ops", "amount mismatch")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, res.NewStatus)

	cp, err := st.GetCustomerPattern(ctx, "t1", "c1")
	require.NoError(t, err)
	require.Len(t, cp.Patterns, 1)
	assert.Equal(t, 1, cp.Patterns[0].RejectionCount)
	// Rejection does not unlearn.
	assert.Equal(t, 1, cp.Patterns[0].OccurrenceCount)
}

func TestManualAction_OnTerminalInvoiceFails(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Submit(ctx, submission("inv-1", abaText))
	require.NoError(t, err)

	sc, err := st.GetScreenshotByInvoice(ctx, "inv-1")
	require.NoError(t, err)
	require.True(t, sc.Status.Terminal())

	before, err := st.ListAudit(ctx, "inv-1")
	require.NoError(t, err)

	_, err = e.Approve(ctx, "inv-1", "ops", "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidTransition))

	_, err = e.Reject(ctx, "inv-1", "ops", "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidTransition))

	_, err = e.MarkForReview(ctx, "inv-1", "ops", "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidTransition))

	// No new audit entries for refused actions.
	after, err := st.ListAudit(ctx, "inv-1")
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestManualAction_UnknownInvoice(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Approve(context.Background(), "missing", "ops", "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

func TestMarkForReview_FromPending(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	// Create a pending screenshot directly, bypassing the decision path.
	sc := &model.PaymentScreenshot{
		ID: "id-1", TenantID: "t1", InvoiceID: "inv-1", OCRText: "x",
		DeclaredAmount: decimal.Zero, Currency: "USD", Status: model.StatusPending,
	}
	require.NoError(t, st.CreateScreenshot(ctx, sc))

	res, err := e.MarkForReview(ctx, "inv-1", "ops", "needs a second look")
	require.NoError(t, err)
	assert.Equal(t, model.StatusManualReview, res.NewStatus)
}

func TestAuditTrail_UnknownInvoice(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.AuditTrail(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

func TestPendingAndStats_EndToEnd(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Submit(ctx, submission("inv-1", abaText))
	require.NoError(t, err)
	_, err = e.Submit(ctx, Submission{TenantID: "t1", CustomerID: "c2", InvoiceID: "inv-2",
		OCRText: "unknown receipt", DeclaredAmount: decimal.Zero})
	require.NoError(t, err)
	_, err = e.Submit(ctx, Submission{TenantID: "t1", CustomerID: "c3", InvoiceID: "inv-3",
		OCRText: "Canadia Bank\nTo: Jane Doe", DeclaredAmount: decimal.Zero})
	require.NoError(t, err)
	_, err = e.Reject(ctx, "inv-3", "ops", "")
	require.NoError(t, err)

	pending, err := e.Pending(ctx, store.PendingFilter{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "inv-2", pending[0].InvoiceID)

	stats, err := e.Stats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 30, stats.WindowDays)
	assert.Equal(t, 4, stats.TotalVerifications)
	assert.Equal(t, 1, stats.AutoVerified)
	assert.Equal(t, 3, stats.ManualActions)
	assert.NotEmpty(t, stats.Breakdown)
}

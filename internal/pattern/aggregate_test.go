package pattern

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFromHistory_Folds(t *testing.T) {
	svc, _ := newTestService(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	observations := []Observation{
		{Recipient: "JOHN SMITH", Account: "123456", BankName: "ABA Bank", Amount: decimal.NewFromInt(100), SeenAt: base},
		{Recipient: "JANE DOE", Account: "999888", BankName: "Wing Bank", SeenAt: base.Add(24 * time.Hour)},
		{Recipient: "SMITH", Account: "", BankName: "ABA Bank", SeenAt: base.Add(48 * time.Hour)},
		{Recipient: "JOHN SMITH", Account: "123 456", BankName: "ABA Bank", SeenAt: base.Add(72 * time.Hour)},
	}

	patterns := svc.BuildFromHistory(observations)
	require.Len(t, patterns, 2)

	smith := patterns[0]
	assert.Equal(t, "JOHN SMITH", smith.ExtractedName)
	assert.Equal(t, 3, smith.OccurrenceCount)
	assert.Equal(t, base, smith.FirstSeen)
	assert.Equal(t, base.Add(72*time.Hour), smith.LastSeen)
	assert.InDelta(t, 0.75, smith.Confidence, 1e-9)

	doe := patterns[1]
	assert.Equal(t, "JANE DOE", doe.ExtractedName)
	assert.Equal(t, 1, doe.OccurrenceCount)
}

func TestBuildFromHistory_SkipsEmptyObservations(t *testing.T) {
	svc, _ := newTestService(t)

	patterns := svc.BuildFromHistory([]Observation{
		{Recipient: "", Account: ""},
		{Recipient: "JOHN SMITH"},
	})
	require.Len(t, patterns, 1)
	assert.Equal(t, 1, patterns[0].OccurrenceCount)
}

func TestBuildFromHistory_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	observations := []Observation{
		{Recipient: "JOHN SMITH", Account: "123456", BankName: "ABA Bank", SeenAt: base},
		{Recipient: "JOHN SMITH", Account: "123456", BankName: "ABA Bank", SeenAt: base.Add(time.Hour)},
		{Recipient: "JANE DOE", SeenAt: base.Add(2 * time.Hour)},
	}

	first := svc.BuildFromHistory(observations)
	second := svc.BuildFromHistory(observations)
	assert.Equal(t, first, second)
}

func TestBuildFromHistory_Empty(t *testing.T) {
	svc, _ := newTestService(t)
	assert.Empty(t, svc.BuildFromHistory(nil))
}

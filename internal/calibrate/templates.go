package calibrate

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearslip/clearslip/internal/bank"
	"github.com/clearslip/clearslip/internal/store"
)

// TemplateReport is the per-bank outcome of running a catalog against the
// verified-screenshot history. Rates are fractions in [0,1].
type TemplateReport struct {
	Code          string  `json:"code"`
	Samples       int     `json:"samples"`
	RecipientHits int     `json:"recipient_hits"`
	AccountHits   int     `json:"account_hits"`
	RecipientRate float64 `json:"recipient_rate"`
	AccountRate   float64 `json:"account_rate"`
	// Promotable means the template saw at least the configured minimum
	// number of samples.
	Promotable bool `json:"promotable"`
}

// ValidateTemplates replays detection and extraction over every verified
// screenshot and tallies per-bank hit-rates. It reads only; nothing is
// written.
func ValidateTemplates(ctx context.Context, st store.Store, registry *bank.Registry, minSamples int) ([]TemplateReport, error) {
	tally := make(map[string]*TemplateReport)
	for _, code := range registry.Codes() {
		tally[code] = &TemplateReport{Code: code}
	}

	tenants, err := st.ListVerifiedTenants(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "calibrate: list tenants for validation")
	}

	undetected := 0
	for _, tenant := range tenants {
		records, err := st.ListVerifiedScreenshots(ctx, tenant)
		if err != nil {
			zap.L().Warn("calibrate: tenant skipped during validation",
				zap.String("tenant_id", tenant),
				zap.Error(err),
			)
			continue
		}
		for _, rec := range records {
			code, known := registry.Detect(rec.OCRText)
			if !known {
				undetected++
				continue
			}
			report := tally[code]
			report.Samples++
			extraction := registry.Extract(code, rec.OCRText)
			if extraction.HasRecipient() {
				report.RecipientHits++
			}
			if extraction.HasAccount() {
				report.AccountHits++
			}
		}
	}

	reports := make([]TemplateReport, 0, len(tally))
	for _, code := range registry.Codes() {
		r := tally[code]
		if r.Samples > 0 {
			r.RecipientRate = float64(r.RecipientHits) / float64(r.Samples)
			r.AccountRate = float64(r.AccountHits) / float64(r.Samples)
		}
		r.Promotable = r.Samples >= minSamples
		reports = append(reports, *r)
	}

	zap.L().Info("template validation complete",
		zap.Int("banks", len(reports)),
		zap.Int("undetected", undetected),
	)
	return reports, nil
}

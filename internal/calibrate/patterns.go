// Package calibrate holds the offline batch jobs that bootstrap the customer
// pattern store and validate bank templates from previously verified records.
// Jobs are single-pass pipelines (load, detect, extract, aggregate, upsert)
// whose writes are replace-on-key: re-running a job over the same snapshot is
// safe and yields the same result.
package calibrate

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clearslip/clearslip/internal/bank"
	"github.com/clearslip/clearslip/internal/model"
	"github.com/clearslip/clearslip/internal/pattern"
	"github.com/clearslip/clearslip/internal/store"
)

// Summary reports what a pattern calibration run did.
type Summary struct {
	Tenants   int `json:"tenants"`
	Loaded    int `json:"loaded"`
	Detected  int `json:"detected"`
	Extracted int `json:"extracted"`
	Customers int `json:"customers"`
	Upserted  int `json:"upserted"`
	Skipped   int `json:"skipped"`
}

func (s *Summary) add(other Summary) {
	s.Tenants += other.Tenants
	s.Loaded += other.Loaded
	s.Detected += other.Detected
	s.Extracted += other.Extracted
	s.Customers += other.Customers
	s.Upserted += other.Upserted
	s.Skipped += other.Skipped
}

// PatternsJob rebuilds customer patterns from the verified-screenshot
// history.
type PatternsJob struct {
	store         store.Store
	registry      *bank.Registry
	patterns      *pattern.Service
	maxConcurrent int
}

// NewPatternsJob creates a calibration job. maxConcurrent bounds how many
// tenants are processed in parallel; the customers of one tenant are
// aggregated within a single goroutine, so per-customer writes stay
// serialized.
func NewPatternsJob(st store.Store, registry *bank.Registry, patterns *pattern.Service, maxConcurrent int) *PatternsJob {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &PatternsJob{
		store:         st,
		registry:      registry,
		patterns:      patterns,
		maxConcurrent: maxConcurrent,
	}
}

// Run executes the full calibration pass. A failed record or tenant is
// counted as skipped and logged; it never aborts the rest of the batch.
func (j *PatternsJob) Run(ctx context.Context) (*Summary, error) {
	tenants, err := j.store.ListVerifiedTenants(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "calibrate: list tenants")
	}

	var mu sync.Mutex
	total := &Summary{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.maxConcurrent)
	for _, tenant := range tenants {
		tenant := tenant
		g.Go(func() error {
			summary, err := j.runTenant(gctx, tenant)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Error("calibrate: tenant failed",
					zap.String("tenant_id", tenant),
					zap.Error(err),
				)
				total.Skipped++
				return nil
			}
			total.add(summary)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "calibrate: run")
	}

	zap.L().Info("calibration complete",
		zap.Int("tenants", total.Tenants),
		zap.Int("loaded", total.Loaded),
		zap.Int("customers", total.Customers),
		zap.Int("upserted", total.Upserted),
		zap.Int("skipped", total.Skipped),
	)
	return total, nil
}

func (j *PatternsJob) runTenant(ctx context.Context, tenantID string) (Summary, error) {
	summary := Summary{Tenants: 1}

	records, err := j.store.ListVerifiedScreenshots(ctx, tenantID)
	if err != nil {
		return summary, eris.Wrapf(err, "calibrate: load verified for tenant %s", tenantID)
	}
	summary.Loaded = len(records)

	byCustomer := make(map[string][]pattern.Observation)
	var customerOrder []string
	for _, rec := range records {
		if rec.CustomerID == "" {
			summary.Skipped++
			continue
		}

		code, known := j.registry.Detect(rec.OCRText)
		if !known {
			summary.Skipped++
			continue
		}
		summary.Detected++

		extraction := j.registry.Extract(code, rec.OCRText)
		if extraction.Empty() {
			summary.Skipped++
			continue
		}
		summary.Extracted++

		if _, seen := byCustomer[rec.CustomerID]; !seen {
			customerOrder = append(customerOrder, rec.CustomerID)
		}
		byCustomer[rec.CustomerID] = append(byCustomer[rec.CustomerID], pattern.Observation{
			Recipient: extraction.Recipient,
			Account:   extraction.Account,
			BankName:  j.registry.Name(code),
			Amount:    rec.DeclaredAmount,
			SeenAt:    rec.UploadedAt,
		})
	}
	summary.Customers = len(customerOrder)

	for _, customerID := range customerOrder {
		observations := byCustomer[customerID]
		doc := &model.CustomerPattern{
			TenantID:   tenantID,
			CustomerID: customerID,
			Patterns:   j.patterns.BuildFromHistory(observations),
		}
		for _, obs := range observations {
			if !obs.Amount.IsZero() {
				doc.ObservedAmounts = appendUniqueAmount(doc.ObservedAmounts, obs.Amount)
			}
			if obs.SeenAt.After(doc.UpdatedAt) {
				doc.UpdatedAt = obs.SeenAt
			}
		}
		if err := j.store.UpsertCustomerPattern(ctx, doc); err != nil {
			zap.L().Warn("calibrate: upsert failed",
				zap.String("tenant_id", tenantID),
				zap.String("customer_id", customerID),
				zap.Error(err),
			)
			summary.Skipped++
			continue
		}
		summary.Upserted++
	}

	return summary, nil
}

func appendUniqueAmount(amounts []decimal.Decimal, amount decimal.Decimal) []decimal.Decimal {
	for _, a := range amounts {
		if a.Equal(amount) {
			return amounts
		}
	}
	return append(amounts, amount)
}

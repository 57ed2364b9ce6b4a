package pattern

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/clearslip/clearslip/internal/bank"
	"github.com/clearslip/clearslip/internal/config"
	"github.com/clearslip/clearslip/internal/model"
)

// Store is the slice of persistence the pattern service needs.
type Store interface {
	GetCustomerPattern(ctx context.Context, tenantID, customerID string) (*model.CustomerPattern, error)
	UpsertCustomerPattern(ctx context.Context, cp *model.CustomerPattern) error
}

// Service owns the read-modify-write cycle on customer patterns. Writes for
// the same (tenant, customer) key are serialized through a keyed mutex so
// concurrent verified payments cannot lose occurrence increments.
type Service struct {
	store Store
	cfg   config.VerificationConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a pattern Service with the given thresholds.
func NewService(store Store, cfg config.VerificationConfig) *Service {
	return &Service{
		store: store,
		cfg:   cfg,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) keyLock(tenantID, customerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantID + "\x00" + customerID
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Confidence derives the learned confidence for an occurrence count:
// min(cap, base + min(span, count*step)). With the default thresholds this
// gives 0.65 on first sighting and saturates at 0.95 from the seventh on.
func (s *Service) Confidence(occurrenceCount int) float64 {
	boost := math.Min(s.cfg.ConfidenceSpan, float64(occurrenceCount)*s.cfg.ConfidenceStep)
	return math.Min(s.cfg.ConfidenceCap, s.cfg.BaseConfidence+boost)
}

// autoApprove derives the auto-approve flag for a pattern's current counts.
func (s *Service) autoApprove(occurrenceCount int, confidence float64) bool {
	return occurrenceCount >= s.cfg.AutoApproveThreshold &&
		confidence >= s.cfg.HighConfidenceThreshold
}

// recompute rederives the pattern's confidence and auto-approve flag from its
// occurrence count. This is the only place either field is written.
func (s *Service) recompute(p *model.RecipientPattern) {
	p.Confidence = s.Confidence(p.OccurrenceCount)
	p.AutoApprove = s.autoApprove(p.OccurrenceCount, p.Confidence)
}

// Lookup finds the stored pattern matching an extracted (recipient, account)
// observation, or nil when the customer has no matching history.
func (s *Service) Lookup(ctx context.Context, tenantID, customerID, recipient, account string) (*model.RecipientPattern, error) {
	if customerID == "" || (recipient == "" && account == "") {
		return nil, nil
	}
	cp, err := s.store.GetCustomerPattern(ctx, tenantID, customerID)
	if err != nil {
		return nil, eris.Wrap(err, "pattern: lookup")
	}
	if cp == nil {
		return nil, nil
	}
	if i := findMatch(cp.Patterns, recipient, account); i >= 0 {
		match := cp.Patterns[i]
		return &match, nil
	}
	return nil, nil
}

// RecordVerifiedPayment folds one confirmed payment into the customer's
// history: a matching stored pattern gains an occurrence and an approval,
// otherwise a new pattern is created at occurrence one. Confidence and
// auto-approve are recomputed on every increment. This is the sole feedback
// loop by which verification learns.
func (s *Service) RecordVerifiedPayment(ctx context.Context, tenantID, customerID, recipient, account, bankName string, amount decimal.Decimal) (*model.RecipientPattern, error) {
	if tenantID == "" || customerID == "" {
		return nil, eris.New("pattern: tenant and customer required")
	}

	lock := s.keyLock(tenantID, customerID)
	lock.Lock()
	defer lock.Unlock()

	cp, err := s.store.GetCustomerPattern(ctx, tenantID, customerID)
	if err != nil {
		return nil, eris.Wrap(err, "pattern: load for record")
	}
	now := time.Now().UTC()
	if cp == nil {
		cp = &model.CustomerPattern{TenantID: tenantID, CustomerID: customerID}
	}

	var recorded *model.RecipientPattern
	if i := findMatch(cp.Patterns, recipient, account); i >= 0 {
		p := &cp.Patterns[i]
		p.OccurrenceCount++
		p.ApprovalCount++
		p.LastSeen = now
		if p.ExtractedAccount == "" && account != "" {
			p.ExtractedAccount = bank.NormalizeAccount(account)
		}
		s.recompute(p)
		recorded = p
	} else {
		p := model.RecipientPattern{
			ExtractedName:    strings.ToUpper(strings.TrimSpace(recipient)),
			ExtractedAccount: bank.NormalizeAccount(account),
			OccurrenceCount:  1,
			ApprovalCount:    1,
			BankName:         bankName,
			FirstSeen:        now,
			LastSeen:         now,
		}
		s.recompute(&p)
		cp.Patterns = append(cp.Patterns, p)
		recorded = &cp.Patterns[len(cp.Patterns)-1]
	}

	if !amount.IsZero() {
		cp.ObservedAmounts = appendAmount(cp.ObservedAmounts, amount)
	}
	cp.UpdatedAt = now

	if err := s.store.UpsertCustomerPattern(ctx, cp); err != nil {
		return nil, eris.Wrap(err, "pattern: persist record")
	}
	out := *recorded
	return &out, nil
}

// RecordRejectedPayment bumps RejectionCount on the matched pattern. It is
// bookkeeping for later analysis and does not change the pattern's confidence.
func (s *Service) RecordRejectedPayment(ctx context.Context, tenantID, customerID, recipient, account string) error {
	if tenantID == "" || customerID == "" {
		return nil
	}

	lock := s.keyLock(tenantID, customerID)
	lock.Lock()
	defer lock.Unlock()

	cp, err := s.store.GetCustomerPattern(ctx, tenantID, customerID)
	if err != nil {
		return eris.Wrap(err, "pattern: load for reject")
	}
	if cp == nil {
		return nil
	}
	i := findMatch(cp.Patterns, recipient, account)
	if i < 0 {
		return nil
	}
	cp.Patterns[i].RejectionCount++
	cp.UpdatedAt = time.Now().UTC()
	return eris.Wrap(s.store.UpsertCustomerPattern(ctx, cp), "pattern: persist reject")
}

func appendAmount(amounts []decimal.Decimal, amount decimal.Decimal) []decimal.Decimal {
	for _, a := range amounts {
		if a.Equal(amount) {
			return amounts
		}
	}
	return append(amounts, amount)
}

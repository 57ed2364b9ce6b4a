package pattern

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearslip/clearslip/internal/bank"
	"github.com/clearslip/clearslip/internal/model"
)

// Observation is one confirmed payment sighting fed into batch aggregation.
type Observation struct {
	Recipient string
	Account   string
	BankName  string
	Amount    decimal.Decimal
	SeenAt    time.Time
}

// BuildFromHistory folds a customer's confirmed payment history into
// recipient patterns using the same fuzzy-match and confidence rules as the
// online path. It is pure: timestamps come from the observations, so two runs
// over the same snapshot produce identical patterns. The calibration job
// relies on that for replace-on-key idempotence.
func (s *Service) BuildFromHistory(observations []Observation) []model.RecipientPattern {
	var patterns []model.RecipientPattern
	for _, obs := range observations {
		if obs.Recipient == "" && obs.Account == "" {
			continue
		}
		if i := findMatch(patterns, obs.Recipient, obs.Account); i >= 0 {
			p := &patterns[i]
			p.OccurrenceCount++
			p.ApprovalCount++
			if obs.SeenAt.After(p.LastSeen) {
				p.LastSeen = obs.SeenAt
			}
			if obs.SeenAt.Before(p.FirstSeen) {
				p.FirstSeen = obs.SeenAt
			}
			if p.ExtractedAccount == "" && obs.Account != "" {
				p.ExtractedAccount = bank.NormalizeAccount(obs.Account)
			}
			s.recompute(p)
		} else {
			p := model.RecipientPattern{
				ExtractedName:    strings.ToUpper(strings.TrimSpace(obs.Recipient)),
				ExtractedAccount: bank.NormalizeAccount(obs.Account),
				OccurrenceCount:  1,
				ApprovalCount:    1,
				BankName:         obs.BankName,
				FirstSeen:        obs.SeenAt,
				LastSeen:         obs.SeenAt,
			}
			s.recompute(&p)
			patterns = append(patterns, p)
		}
	}
	return patterns
}

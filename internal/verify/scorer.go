package verify

import (
	"github.com/clearslip/clearslip/internal/bank"
	"github.com/clearslip/clearslip/internal/model"
)

// Score fuses the extraction outcome with the customer's historical pattern
// into a single confidence in [0,1], and names the signal that produced it.
//
// Historical evidence always takes precedence: a matched pattern's stored
// confidence reflects repeated human confirmation and is trusted over the raw
// extraction confidence. Extraction confidence is the fallback when there is
// no history. The two are never averaged. With neither signal the score is
// zero, which downstream routes to manual review.
func Score(extraction bank.Extraction, historical *model.RecipientPattern) (float64, model.VerificationMethod) {
	if historical != nil {
		return historical.Confidence, model.MethodPatternMatch
	}
	if !extraction.Empty() {
		return extraction.BestConfidence(), model.MethodBankFormat
	}
	return 0, model.MethodBankFormat
}

// Package bank holds the bank-template registry, the bank-format detector and
// the OCR field extractor. Detection and extraction are pure functions over
// the registry and the OCR text; the registry itself is immutable after
// construction.
package bank

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/clearslip/clearslip/internal/model"
)

// UnknownBank is returned by Detect when no template keyword matches.
const UnknownBank = "UNKNOWN"

type compiledPattern struct {
	re           *regexp.Regexp
	confidence   float64
	priority     int
	captureGroup int
}

type compiledTemplate struct {
	code      string
	name      string
	keywords  []string
	recipient []compiledPattern
	account   []compiledPattern
}

// Registry is an ordered, immutable set of bank templates with their regexes
// pre-compiled. Order is the registration order of the source catalog and is
// the detection tie-break.
type Registry struct {
	templates []compiledTemplate
	byCode    map[string]int
	version   int
}

// NewRegistry compiles a template catalog. A template with an invalid or
// capture-group-less regex is rejected outright: a broken catalog must never
// be promoted into the decision path.
func NewRegistry(catalog model.TemplateCatalog) (*Registry, error) {
	r := &Registry{
		byCode:  make(map[string]int, len(catalog.Templates)),
		version: catalog.Version,
	}
	for _, t := range catalog.Templates {
		if t.Code == "" {
			return nil, eris.New("bank: template with empty code")
		}
		if _, dup := r.byCode[t.Code]; dup {
			return nil, eris.Errorf("bank: duplicate template code %s", t.Code)
		}
		ct := compiledTemplate{
			code:     t.Code,
			name:     t.Name,
			keywords: t.Keywords,
		}
		var err error
		if ct.recipient, err = compilePatterns(t.Code, t.Recipient); err != nil {
			return nil, err
		}
		if ct.account, err = compilePatterns(t.Code, t.Account); err != nil {
			return nil, err
		}
		r.byCode[t.Code] = len(r.templates)
		r.templates = append(r.templates, ct)
	}
	return r, nil
}

func compilePatterns(code string, patterns []model.ExtractionPattern) ([]compiledPattern, error) {
	out := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, eris.Wrapf(err, "bank: template %s: compile %q", code, p.Regex)
		}
		group := p.CaptureGroup
		if group == 0 {
			group = 1
		}
		if group > re.NumSubexp() {
			return nil, eris.Errorf("bank: template %s: %q has no capture group %d", code, p.Regex, group)
		}
		out = append(out, compiledPattern{
			re:           re,
			confidence:   p.Confidence,
			priority:     p.Priority,
			captureGroup: group,
		})
	}
	// Lower priority number is tried first. Stable sort keeps catalog order
	// among equal priorities.
	sort.SliceStable(out, func(i, j int) bool { return out[i].priority < out[j].priority })
	return out, nil
}

// Version returns the catalog version the registry was built from.
func (r *Registry) Version() int {
	return r.version
}

// Codes returns the registered bank codes in registration order.
func (r *Registry) Codes() []string {
	codes := make([]string, len(r.templates))
	for i, t := range r.templates {
		codes[i] = t.code
	}
	return codes
}

// Name returns the display name for a bank code, or the code itself when
// unregistered.
func (r *Registry) Name(code string) string {
	if i, ok := r.byCode[code]; ok {
		return r.templates[i].name
	}
	return code
}

// Detect classifies OCR text into a bank code. Each template scores the sum
// of the character lengths of its keywords found as case-insensitive
// substrings; the highest non-zero score wins and ties resolve to the
// first-registered template. Returns UnknownBank and false when nothing
// matches.
func (r *Registry) Detect(ocrText string) (string, bool) {
	lower := strings.ToLower(ocrText)

	best := -1
	bestScore := 0
	for i, t := range r.templates {
		score := 0
		for _, kw := range t.keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				score += len(kw)
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return UnknownBank, false
	}
	return r.templates[best].code, true
}

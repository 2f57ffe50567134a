package services

import (
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"pricepilot/config"
	"pricepilot/identity"
	"pricepilot/models"
)

// Matcher decides whether a scraped record is an existing product, a new one,
// or too close to call. Scoring is name similarity over normalized names with
// a hard brand prefilter, so "Sony WH-1000XM4" from one vendor and
// "Sony WH1000XM4/B Wireless..." from another land on the same product while
// the XM3 stays separate.
type Matcher struct {
	threshold float64
	epsilon   float64

	jw *metrics.JaroWinkler
}

func NewMatcher(cfg config.MatchConfig) *Matcher {
	return &Matcher{
		threshold: cfg.Threshold,
		epsilon:   cfg.Epsilon,
		jw:        metrics.NewJaroWinkler(),
	}
}

type scored struct {
	id    models.MatchCandidate
	score float64
}

// Match scores the incoming record against the candidate pool and returns
// the classification. The pool is whatever the caller loaded at run start
// plus products created earlier in the same run.
func (m *Matcher) Match(name, brand, model string, pool []models.MatchCandidate) models.MatchResult {
	incoming := identity.NormalizeName(name)
	if incoming == "" {
		return models.MatchResult{}
	}
	incomingTokens := identity.ModelTokens(name)

	var candidates []scored
	for _, c := range pool {
		if !brandsCompatible(brand, c.Brand) {
			continue
		}
		s := m.score(incoming, incomingTokens, model, &c)
		if s >= m.threshold {
			candidates = append(candidates, scored{id: c, score: s})
		}
	}

	if len(candidates) == 0 {
		return models.MatchResult{}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	best := candidates[0]
	if len(candidates) > 1 && best.score-candidates[1].score < m.epsilon {
		return models.MatchResult{Ambiguous: true, Score: best.score}
	}

	return models.MatchResult{Matched: true, ProductID: best.id.ID, Score: best.score}
}

func (m *Matcher) score(incoming string, incomingTokens []string, model string, c *models.MatchCandidate) float64 {
	candidate := identity.NormalizeName(c.Name)
	if candidate == "" {
		return 0
	}

	// Jaro-Winkler rewards shared prefixes, token-sort rescues vendors that
	// reorder the same words. Take the better of the two.
	score := strutil.Similarity(incoming, candidate, m.jw)
	if ts := strutil.Similarity(tokenSort(incoming), tokenSort(candidate), m.jw); ts > score {
		score = ts
	}

	switch compareModels(incomingTokens, model, c) {
	case modelShared:
		score += 0.15
		if score > 1.0 {
			score = 1.0
		}
	case modelConflict:
		// Both records carry model codes and none line up: WH-1000XM3 vs
		// WH-1000XM4 are near-identical strings but different products.
		score -= 0.3
		if score < 0 {
			score = 0
		}
	}

	return score
}

type modelVerdict int

const (
	modelUnknown modelVerdict = iota
	modelShared
	modelConflict
)

// compareModels checks the model codes on both sides, from the explicit model
// field plus tokens mined out of the name. Codes are compared hyphen-blind so
// vendor spellings like "WH1000XM4" and "WH-1000XM4" count as the same code.
func compareModels(incomingTokens []string, model string, c *models.MatchCandidate) modelVerdict {
	theirs := identity.ModelTokens(c.Name)
	if c.Model != "" {
		theirs = append(theirs, strings.ToLower(c.Model))
	}
	ours := incomingTokens
	if model != "" {
		ours = append(ours, strings.ToLower(model))
	}
	if len(ours) == 0 || len(theirs) == 0 {
		return modelUnknown
	}

	for _, a := range ours {
		for _, b := range theirs {
			if stripHyphens(a) == stripHyphens(b) {
				return modelShared
			}
		}
	}
	return modelConflict
}

func stripHyphens(s string) string {
	return strings.ReplaceAll(s, "-", "")
}

// brandsCompatible is the hard prefilter. Known different brands never match
// regardless of name similarity; a missing brand on either side passes.
func brandsCompatible(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func tokenSort(s string) string {
	fields := strings.Fields(s)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}

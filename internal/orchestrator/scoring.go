package orchestrator

import (
	"math"
	"strings"

	"golang.org/x/text/language"

	"fetcharr/internal/config"
	"fetcharr/internal/providers"
)

// referenceArea normalizes resolution against a 4K frame so typical artwork
// scores fall inside [0, 1] on the resolution term.
const referenceArea = 3840 * 2160

// Scorer computes deterministic candidate scores. All weights come from
// configuration; two runs over the same inputs always produce the same
// ordering.
type Scorer struct {
	resolutionWeight float64
	voteWeight       float64
	providerWeight   float64
	languageWeight   float64
	voteDamping      float64

	matcher   language.Matcher
	preferred []language.Tag
}

// NewScorer builds a scorer from the scoring configuration section.
func NewScorer(cfg config.Scoring) *Scorer {
	s := &Scorer{
		resolutionWeight: cfg.ResolutionWeight,
		voteWeight:       cfg.VoteWeight,
		providerWeight:   cfg.ProviderWeight,
		languageWeight:   cfg.LanguageWeight,
		voteDamping:      cfg.VoteCountDamping,
	}
	if s.voteDamping <= 1 {
		s.voteDamping = 1000
	}
	for _, raw := range cfg.PreferredLanguages {
		tag, err := language.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		s.preferred = append(s.preferred, tag)
	}
	if len(s.preferred) == 0 {
		s.preferred = []language.Tag{language.English}
	}
	s.matcher = language.NewMatcher(s.preferred)
	return s
}

// Score combines resolution, vote quality, provider priority, and language
// preference. The resolution term is strictly increasing in pixel area and
// the vote term strictly increasing in vote average for fixed vote count, so
// better candidates always outrank worse ones on those axes.
func (s *Scorer) Score(ref providers.AssetRef, providerPriority float64) float64 {
	area := float64(ref.Width * ref.Height)
	resScore := math.Log1p(area) / math.Log1p(referenceArea)

	voteScore := (ref.VoteAverage / 10) * math.Log1p(float64(ref.VoteCount)) / math.Log1p(s.voteDamping)

	return s.resolutionWeight*resScore +
		s.voteWeight*voteScore +
		s.providerWeight*providerPriority +
		s.languageWeight*s.languageScore(ref.Language)
}

// languageScore maps a candidate's language tag to a preference score via
// the configured matcher. An untagged candidate is neutral: usable anywhere
// but never beating an exact match.
func (s *Scorer) languageScore(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0.5
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return 0
	}
	_, _, confidence := s.matcher.Match(tag)
	switch confidence {
	case language.Exact:
		return 1
	case language.High:
		return 0.9
	case language.Low:
		return 0.6
	default:
		return 0
	}
}

package orchestrator

import (
	"testing"

	"fetcharr/internal/config"
	"fetcharr/internal/providers"
)

func testScoringConfig() config.Scoring {
	return config.Scoring{
		ResolutionWeight:   0.4,
		VoteWeight:         0.3,
		ProviderWeight:     0.2,
		LanguageWeight:     0.1,
		VoteCountDamping:   1000,
		PreferredLanguages: []string{"en"},
	}
}

func posterRef(width, height int, voteAvg float64, voteCount int, lang string) providers.AssetRef {
	return providers.AssetRef{
		Provider:    "tmdb",
		AssetType:   providers.AssetPoster,
		URL:         "https://img.example/p.jpg",
		Width:       width,
		Height:      height,
		Language:    lang,
		VoteAverage: voteAvg,
		VoteCount:   voteCount,
	}
}

func TestScoreIncreasesWithResolution(t *testing.T) {
	scorer := NewScorer(testScoringConfig())

	hd := scorer.Score(posterRef(1920, 1080, 7.5, 100, "en"), 1.0)
	sd := scorer.Score(posterRef(1280, 720, 7.5, 100, "en"), 1.0)
	if hd <= sd {
		t.Fatalf("1920x1080 scored %f, 1280x720 scored %f", hd, sd)
	}
}

func TestScoreIncreasesWithVoteAverage(t *testing.T) {
	scorer := NewScorer(testScoringConfig())

	good := scorer.Score(posterRef(1000, 1500, 8.0, 200, "en"), 1.0)
	poor := scorer.Score(posterRef(1000, 1500, 4.0, 200, "en"), 1.0)
	if good <= poor {
		t.Fatalf("vote 8.0 scored %f, vote 4.0 scored %f", good, poor)
	}
}

func TestScoreDampsVoteCount(t *testing.T) {
	scorer := NewScorer(testScoringConfig())

	few := scorer.Score(posterRef(1000, 1500, 8.0, 10, "en"), 1.0)
	many := scorer.Score(posterRef(1000, 1500, 8.0, 1000, "en"), 1.0)
	huge := scorer.Score(posterRef(1000, 1500, 8.0, 100000, "en"), 1.0)
	if many <= few {
		t.Fatalf("more votes should raise the score: %f vs %f", many, few)
	}
	// Logarithmic damping: the jump from 1000 to 100000 votes is smaller than
	// the jump from 10 to 1000.
	if huge-many >= many-few {
		t.Fatalf("vote damping not logarithmic: %f %f %f", few, many, huge)
	}
}

func TestScoreRewardsProviderPriority(t *testing.T) {
	scorer := NewScorer(testScoringConfig())

	ref := posterRef(1000, 1500, 7.0, 100, "en")
	preferred := scorer.Score(ref, 1.0)
	fallback := scorer.Score(ref, 0.5)
	if preferred <= fallback {
		t.Fatalf("provider weight ignored: %f vs %f", preferred, fallback)
	}
}

func TestLanguagePreference(t *testing.T) {
	scorer := NewScorer(testScoringConfig())

	exact := scorer.languageScore("en")
	neutral := scorer.languageScore("")
	mismatch := scorer.languageScore("ko")
	if exact != 1 {
		t.Fatalf("exact match = %f", exact)
	}
	if neutral != 0.5 {
		t.Fatalf("untagged = %f", neutral)
	}
	if mismatch >= neutral {
		t.Fatalf("mismatched language %f should score below neutral %f", mismatch, neutral)
	}
	if scorer.languageScore("not-a-tag!") != 0 {
		t.Fatal("unparseable language should score 0")
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	scorer := NewScorer(testScoringConfig())

	ref := posterRef(2000, 3000, 7.7, 321, "en")
	first := scorer.Score(ref, 0.9)
	for i := 0; i < 10; i++ {
		if got := scorer.Score(ref, 0.9); got != first {
			t.Fatalf("score drifted: %f != %f", got, first)
		}
	}
}

func TestNewScorerDefaults(t *testing.T) {
	scorer := NewScorer(config.Scoring{
		ResolutionWeight:   1,
		PreferredLanguages: []string{"??bad??"},
	})
	if scorer.voteDamping != 1000 {
		t.Fatalf("voteDamping = %f", scorer.voteDamping)
	}
	// Unparseable preferences fall back to English.
	if scorer.languageScore("en") != 1 {
		t.Fatal("fallback preference should be English")
	}
}

package similarity_test

import (
	"context"
	"testing"

	"github.com/sin5ddd/sqlew/internal/decision"
	"github.com/sin5ddd/sqlew/internal/similarity"
	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestScoreCandidateExactKeyMatchIsNearDuplicate(t *testing.T) {
	s := similarity.ScoreCandidate("auth_method", []string{"auth", "security"}, similarity.Candidate{
		Key: "auth_method", Tags: []string{"auth", "security"},
	})
	require.Equal(t, float64(20), s.KeySimilarity)
	require.Equal(t, float64(40), s.TagOverlap)
	require.Equal(t, float64(60), s.Composite)
	require.Equal(t, similarity.TierNearDuplicate, s.Tier)
	require.True(t, s.IsDuplicate)
}

func TestScoreCandidateNoOverlapIsNotDuplicate(t *testing.T) {
	s := similarity.ScoreCandidate("auth_method", []string{"auth"}, similarity.Candidate{
		Key: "totally_unrelated_thing", Tags: []string{"unrelated"},
	})
	require.Less(t, s.Composite, float64(35))
	require.Equal(t, similarity.TierNone, s.Tier)
	require.False(t, s.IsDuplicate)
}

func TestScoreCandidateTierBoundaries(t *testing.T) {
	// Exact key match fixes key-similarity at 20; adding shared tags in
	// 10-point steps lands composite in each tier in turn.
	cases := []struct {
		sharedTags []string
		wantTier   similarity.Tier
	}{
		{nil, similarity.TierNone},                          // composite 20
		{[]string{"a", "b"}, similarity.TierGentleNudge},     // composite 40
		{[]string{"a", "b", "c"}, similarity.TierHardBlock},  // composite 50
		{[]string{"a", "b", "c", "d"}, similarity.TierNearDuplicate}, // composite 60
	}
	for _, c := range cases {
		s := similarity.ScoreCandidate("same_key", c.sharedTags, similarity.Candidate{Key: "same_key", Tags: c.sharedTags})
		require.Equal(t, c.wantTier, s.Tier, "composite=%v", s.Composite)
	}
}

func TestRankCandidatesOrdersByCompositeDescending(t *testing.T) {
	candidates := []similarity.Candidate{
		{Key: "unrelated", Tags: []string{"x"}},
		{Key: "auth_method", Tags: []string{"auth", "security"}},
		{Key: "auth_methods", Tags: []string{"auth"}},
	}
	ranked := similarity.RankCandidates("auth_method", []string{"auth", "security"}, candidates)
	require.Equal(t, "auth_method", ranked[0].Candidate.Key)
	require.GreaterOrEqual(t, ranked[0].Composite, ranked[1].Composite)
	require.GreaterOrEqual(t, ranked[1].Composite, ranked[2].Composite)
}

func TestSuggestUsesTagIndexCandidates(t *testing.T) {
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	t.Cleanup(func() { a.Close() })

	d := decision.New(a, 1)
	_, err = d.Set(ctx, "auth_method", "JWT", decision.SetParams{Tags: []string{"auth", "security"}})
	require.NoError(t, err)
	_, err = d.Set(ctx, "cache_ttl", "300", decision.SetParams{Tags: []string{"performance"}})
	require.NoError(t, err)

	scores, err := similarity.Suggest(ctx, a, 1, "authentication_method", []string{"auth", "security"})
	require.NoError(t, err)
	require.NotEmpty(t, scores)
	require.Equal(t, "auth_method", scores[0].Candidate.Key)
}

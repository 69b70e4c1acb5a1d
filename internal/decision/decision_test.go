package decision_test

import (
	"context"
	"testing"

	"github.com/sin5ddd/sqlew/internal/decision"
	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *decision.Store {
	t.Helper()
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	t.Cleanup(func() { a.Close() })
	return decision.New(a, 1)
}

// Scenario A — decision versioning.
func TestScenarioADecisionVersioning(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Set(ctx, "auth_method", "JWT", decision.SetParams{Layer: "business", Tags: []string{"auth", "security"}})
	require.NoError(t, err)

	_, err = s.Set(ctx, "auth_method", "OAuth2", decision.SetParams{Version: "2.0.0"})
	require.NoError(t, err)

	history, err := s.GetVersions(ctx, "auth_method")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "JWT", history[0].Value)
	for _, h := range history {
		require.NotEqual(t, "OAuth2", h.Value)
	}

	got, err := s.Get(ctx, "auth_method")
	require.NoError(t, err)
	require.Equal(t, "OAuth2", got.Value)
}

// Scenario B — tag-index consistency: dropping a tag on a later set call
// removes it from both the junction table and the denormalized tag index.
func TestScenarioBTagIndexConsistency(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Set(ctx, "cache_ttl", "300", decision.SetParams{Tags: []string{"performance", "caching"}})
	require.NoError(t, err)

	results, err := s.SearchByTags(ctx, []string{"performance"}, decision.MatchAny, "", "", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "cache_ttl", results[0].Key)

	_, err = s.Set(ctx, "cache_ttl", "600", decision.SetParams{Tags: []string{"performance"}})
	require.NoError(t, err)

	results, err = s.SearchByTags(ctx, []string{"caching"}, decision.MatchAny, "", "", 0)
	require.NoError(t, err)
	require.Empty(t, results)

	got, err := s.Get(ctx, "cache_ttl")
	require.NoError(t, err)
	require.Equal(t, "600", got.Value)
	require.ElementsMatch(t, []string{"performance"}, got.Tags)
}

func TestSetEmptyTagsLeavesExistingTagsUntouched(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Set(ctx, "log_level", "debug", decision.SetParams{Tags: []string{"logging"}})
	require.NoError(t, err)

	_, err = s.Set(ctx, "log_level", "info", decision.SetParams{})
	require.NoError(t, err)

	got, err := s.Get(ctx, "log_level")
	require.NoError(t, err)
	require.Equal(t, []string{"logging"}, got.Tags)
}

func TestGetUnknownKeyIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, "does_not_exist")
	require.Error(t, err)
}

func TestAddDecisionContextRejectsNonArrayAlternatives(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Set(ctx, "auth_method", "JWT", decision.SetParams{})
	require.NoError(t, err)

	_, err = s.AddDecisionContext(ctx, "auth_method", "because reasons", `{"not":"an array"}`, "", "claude", nil, nil)
	require.Error(t, err)
}

func TestAddDecisionContextRejectsTradeoffsWithUnknownFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Set(ctx, "auth_method", "JWT", decision.SetParams{})
	require.NoError(t, err)

	_, err = s.AddDecisionContext(ctx, "auth_method", "because reasons", "", `{"pros":["fast"],"extra":"nope"}`, "claude", nil, nil)
	require.Error(t, err)
}

func TestAddDecisionContextAcceptsValidShapes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Set(ctx, "auth_method", "JWT", decision.SetParams{})
	require.NoError(t, err)

	dc, err := s.AddDecisionContext(ctx, "auth_method", "stateless and simple", `["OAuth2","SAML"]`, `{"pros":["stateless"],"cons":["revocation is hard"]}`, "claude", nil, nil)
	require.NoError(t, err)
	require.NotZero(t, dc.ID)
}

func TestQuickSetInfersLayerAndTagFromPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.QuickSet(ctx, "api/rate_limit", "100", decision.SetParams{})
	require.NoError(t, err)

	got, err := s.Get(ctx, "api/rate_limit")
	require.NoError(t, err)
	require.Equal(t, "business", got.Layer)
	require.Equal(t, []string{"api"}, got.Tags)
}

func TestSearchAdvancedConjunctiveFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Set(ctx, "k1", "v1", decision.SetParams{Layer: "business", Tags: []string{"auth"}})
	require.NoError(t, err)
	_, err = s.Set(ctx, "k2", "v2", decision.SetParams{Layer: "data", Tags: []string{"auth"}})
	require.NoError(t, err)

	results, err := s.SearchAdvanced(ctx, decision.AdvancedFilter{Layers: []string{"business"}, TagsAny: []string{"auth"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "k1", results[0].Key)
}

func TestCreateAndUseTemplate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateTemplate(ctx, "cache-ttl", "cache/{name}_ttl", "data", []string{"caching"}, "seconds", "cache TTL template")
	require.NoError(t, err)

	templates, err := s.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	require.Equal(t, "cache-ttl", templates[0].Name)

	_, err = s.SetFromTemplate(ctx, "cache-ttl", map[string]string{"name": "session"}, "600", decision.SetParams{})
	require.NoError(t, err)

	got, err := s.Get(ctx, "cache/session_ttl")
	require.NoError(t, err)
	require.Equal(t, "600", got.Value)
	require.Equal(t, "data", got.Layer)
	require.ElementsMatch(t, []string{"caching"}, got.Tags)
}

func TestSetFromTemplateRejectsUnknownTemplate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SetFromTemplate(ctx, "does-not-exist", nil, "x", decision.SetParams{})
	require.Error(t, err)
}

func TestSetBatchAtomicRollsBackOnInvalidLayer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	items := []decision.BatchItem{
		{Key: "a", Value: "1", Params: decision.SetParams{Layer: "business"}},
		{Key: "b", Value: "2", Params: decision.SetParams{Layer: "not_a_layer"}},
	}
	_, err := s.SetBatch(ctx, items, true)
	require.Error(t, err)

	_, err = s.Get(ctx, "a")
	require.Error(t, err)
}

func TestSetBatchAtomicSucceeds(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	items := []decision.BatchItem{
		{Key: "a", Value: "1", Params: decision.SetParams{Layer: "business"}},
		{Key: "b", Value: "2", Params: decision.SetParams{Layer: "data"}},
	}
	res, err := s.SetBatch(ctx, items, true)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 2, res.Inserted)

	got, err := s.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, "2", got.Value)
}

func TestSetBatchBestEffortRejectsBatchOnPreflightFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	items := []decision.BatchItem{
		{Key: "a", Value: "1", Params: decision.SetParams{Layer: "business"}},
		{Key: "", Value: "2", Params: decision.SetParams{}},
	}
	_, err := s.SetBatch(ctx, items, false)
	require.Error(t, err)
}

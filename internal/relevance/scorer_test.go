package relevance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokensCleansText(t *testing.T) {
	t.Parallel()

	got := Tokens("Email me@x.com or visit https://a.example/c! Fishing 2024 trips, the BEST.")
	require.Equal(t, []string{"email", "visit", "fish", "trip", "best"}, got)
}

func TestTokensEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, Tokens(""))
	require.Empty(t, Tokens("the and of 42 !!"))
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 1.0, Similarity("fish", "fish"), 1e-9)
	require.InDelta(t, 0.25, Similarity("night", "nacht"), 1e-9)
	require.InDelta(t, 0.0, Similarity("trip", "fish"), 1e-9)
	require.InDelta(t, 0.0, Similarity("a", "b"), 1e-9)
	require.InDelta(t, 0.0, Similarity("", ""), 1e-9)
}

func TestScore(t *testing.T) {
	t.Parallel()

	s := New()
	scores, err := s.Score(context.Background(), "fishing", "fish trip")
	require.NoError(t, err)
	require.Equal(t, []float64{1, 0}, scores)

	for _, v := range scores {
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 1.0)
	}
}

func TestScoreNoScorableContent(t *testing.T) {
	t.Parallel()

	scores, err := New().Score(context.Background(), "fishing", "the of and 123")
	require.NoError(t, err)
	require.Empty(t, scores)
}

func TestScoreCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Score(ctx, "fishing", "fish")
	require.ErrorIs(t, err, context.Canceled)
}

func TestPageScore(t *testing.T) {
	t.Parallel()

	s := New()
	require.InDelta(t, 0.75, s.PageScore("fishing", "Fishing fish fished boats"), 1e-9)
	require.InDelta(t, 0.0, s.PageScore("fishing", ""), 1e-9)
	require.InDelta(t, 0.0, s.PageScore("fishing", "boats and cars"), 1e-9)
}

func TestClean(t *testing.T) {
	t.Parallel()

	require.Equal(t, "fish trip", Clean("The fishing trips!"))
}

package intent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScoreWithoutKeywordsIsUnclear(t *testing.T) {
	for _, text := range []string{"", "um, maybe", "I need to think about it", "yesterday nobody came", "¿qué?"} {
		require.Equal(t, Result{Intent: Unclear, Confidence: 0}, Score(text), text)
	}
}

func TestScoreCountsKeywords(t *testing.T) {
	cases := []struct {
		text string
		want Result
	}{
		{"yes yes aye", Result{Yes, 1}},
		{"YES, I Support it!", Result{Yes, 1}},
		{"Nay. I oppose; against.", Result{No, 1}},
		{"yes but no, no", Result{No, 1.0 / 3.0}},
		{"agree... disagree", Result{No, 0}},
		{"I am in favor, yes, not against", Result{Yes, 1.0 / 3.0}},
	}
	for _, tc := range cases {
		got := Score(tc.text)
		require.Equal(t, tc.want.Intent, got.Intent, tc.text)
		require.InDelta(t, tc.want.Confidence, got.Confidence, 1e-9, tc.text)
	}
}

func TestTokenizeSplitsOnPunctuation(t *testing.T) {
	require.Equal(t, []string{"aye", "aye", "sir"}, Tokenize("Aye-aye, SIR!"))
}

func TestFuseAgreementTakesMaxConfidence(t *testing.T) {
	for _, in := range []Intent{Yes, No, Unclear} {
		got := Fuse(Result{in, 0.3}, Result{in, 0.8})
		require.Equal(t, Result{in, 0.8}, got)
		got = Fuse(Result{in, 0.9}, Result{in, 0.1})
		require.Equal(t, Result{in, 0.9}, got)
	}
}

func TestFuseDisagreementPicksMoreConfident(t *testing.T) {
	require.Equal(t, Result{No, 0.9}, Fuse(Result{Yes, 0.5}, Result{No, 0.9}))
	require.Equal(t, Result{Yes, 0.95}, Fuse(Result{Yes, 0.95}, Result{No, 0.9}))
}

func TestFuseTieFavorsLexical(t *testing.T) {
	for _, c := range []float64{0, 0.4, 0.7, 1} {
		require.Equal(t, Result{Yes, c}, Fuse(Result{Yes, c}, Result{No, c}))
		require.Equal(t, Result{No, c}, Fuse(Result{No, c}, Result{Unclear, c}))
	}
}

func TestFuseWithUnavailableSemanticKeepsLexical(t *testing.T) {
	require.Equal(t, Result{Yes, 1}, Fuse(Score("yes yes aye"), Unavailable))
	require.Equal(t, Result{Unclear, 0}, Fuse(Score("hmm"), Unavailable))
	require.Equal(t, Result{No, 0}, Fuse(Score("yes no"), Unavailable))
}

func TestGateDecide(t *testing.T) {
	gate := NewGate(0)
	require.Equal(t, DefaultThreshold, gate.Threshold)

	got, err := gate.Decide(Result{Yes, 0.7})
	require.NoError(t, err)
	require.Equal(t, Yes, got)

	_, err = gate.Decide(Result{No, 0.4})
	require.ErrorIs(t, err, ErrVoteIntentUnclear)
	var rejection *RejectionError
	require.True(t, errors.As(err, &rejection))
	require.Equal(t, Result{No, 0.4}, rejection.Result)

	_, err = gate.Decide(Result{Unclear, 0.9})
	require.ErrorIs(t, err, ErrInvalidIntent)
	require.NotErrorIs(t, err, ErrVoteIntentUnclear)
}

func TestScenarioMaybeRejected(t *testing.T) {
	fused := Fuse(Score("um, maybe"), Result{No, 0.4})
	require.Equal(t, Result{No, 0.4}, fused)
	_, err := NewGate(DefaultThreshold).Decide(fused)
	require.ErrorIs(t, err, ErrVoteIntentUnclear)
}

func TestResultNormalize(t *testing.T) {
	require.Equal(t, Result{Unclear, 1}, Result{"perhaps", 3}.Normalize())
	require.Equal(t, Result{Yes, 0}, Result{" YES ", -1}.Normalize())
}

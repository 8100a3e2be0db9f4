package utils

import "testing"

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("empty string: expected 0, got %d", got)
	}
	if got := EstimateTokens("word"); got < 1 {
		t.Errorf("single word: expected at least 1, got %d", got)
	}
	short := EstimateTokens("a few short words")
	long := EstimateTokens("a considerably longer sentence containing many more words than the short one")
	if long <= short {
		t.Errorf("expected longer text to score higher: short=%d long=%d", short, long)
	}
	// Deterministic for fixed input.
	if EstimateTokens("repeatable input text") != EstimateTokens("repeatable input text") {
		t.Error("expected identical estimates for identical input")
	}
}

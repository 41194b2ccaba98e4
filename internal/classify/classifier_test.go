package classify

import (
	"context"
	"testing"

	"ecosort/internal/types"
)

func TestAnalyzerWithoutKeyFallsBackToManual(t *testing.T) {
	a, err := NewAnalyzer(context.Background(), "", "", nil)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	if a.Available() {
		t.Error("Analyzer claims availability without an API key")
	}

	got, err := a.Analyze(context.Background(), "old laptop battery")
	if err != nil {
		t.Fatalf("Analyze without key must not error, got: %v", err)
	}
	if got.Confidence != 0 {
		t.Errorf("Fallback confidence = %v, want 0", got.Confidence)
	}
	if got.Category != types.CategoryDry {
		t.Errorf("Fallback category = %s, want DRY", got.Category)
	}
	if got.SafetyTips == "" || got.WeightGuess != "Unknown" {
		t.Errorf("Fallback not clearly marked: %+v", got)
	}
}

func TestFallbackIsStable(t *testing.T) {
	a := Fallback()
	b := Fallback()
	if *a != *b {
		t.Error("Fallback values differ between calls")
	}
}

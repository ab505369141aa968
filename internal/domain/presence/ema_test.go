package presence

import "testing"

func TestNextEMAStream(t *testing.T) {
	counts := []float64{10, 10, 10, 20, 20}
	want := []float64{10, 10, 10, 12, 13.6}

	var prev *float64
	for i, c := range counts {
		ema := NextEMA(prev, c, DefaultEMAAlpha)
		if diff := ema - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("tick %d: got %v, want %v", i, ema, want[i])
		}
		prev = &ema
	}
}

func TestValidateAlphaRejectsOutOfRange(t *testing.T) {
	if err := ValidateAlpha(0); err == nil {
		t.Fatalf("expected error for alpha=0")
	}
	if err := ValidateAlpha(1); err == nil {
		t.Fatalf("expected error for alpha=1")
	}
	if err := ValidateAlpha(0.2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

package generation

import "testing"

func TestNormalizeAspect(t *testing.T) {
	tests := []struct {
		token string
		want  AspectRatio
	}{
		{"16_9", Aspect16x9},
		{"16:9", Aspect16x9},
		{"landscape", Aspect16x9},
		{"9_16", Aspect9x16},
		{"9:16", Aspect9x16},
		{"portrait", Aspect9x16},
		{"square", Aspect1x1},
		{"1_1", Aspect1x1},
		{"4_3", Aspect4x3},
		{"3_4", Aspect3x4},
		{"4_5", Aspect4x5},
		{" Portrait ", Aspect9x16},
		{"16X9", Aspect16x9},
	}
	for _, tc := range tests {
		if got := NormalizeAspect(tc.token); got != tc.want {
			t.Fatalf("NormalizeAspect(%q) = %q, want %q", tc.token, got, tc.want)
		}
	}
}

func TestNormalizeAspectUnknownFallsBack(t *testing.T) {
	for _, token := range []string{"", "banana", "0_0", "wide", "7"} {
		if got := NormalizeAspect(token); got != DefaultAspect {
			t.Fatalf("NormalizeAspect(%q) = %q, want default %q", token, got, DefaultAspect)
		}
	}
}

func TestAspectFromDimensions(t *testing.T) {
	tests := []struct {
		w, h int
		want AspectRatio
	}{
		{1920, 1080, Aspect16x9},
		{1080, 1920, Aspect9x16},
		{1000, 1000, Aspect1x1},
		{800, 600, Aspect4x3},
		{600, 800, Aspect3x4},
		{1080, 1350, Aspect4x5},
		// 9:10 sits exactly between 1:1 and 4:5; the wider ratio wins the tie.
		{900, 1000, Aspect1x1},
		{0, 100, DefaultAspect},
		{100, 0, DefaultAspect},
	}
	for _, tc := range tests {
		if got := AspectFromDimensions(tc.w, tc.h); got != tc.want {
			t.Fatalf("AspectFromDimensions(%d, %d) = %q, want %q", tc.w, tc.h, got, tc.want)
		}
	}
}

func TestDimensionsAreConsistent(t *testing.T) {
	for _, aspect := range []AspectRatio{Aspect16x9, Aspect9x16, Aspect1x1, Aspect4x3, Aspect3x4, Aspect4x5} {
		w, h := aspect.Dimensions()
		if w <= 0 || h <= 0 {
			t.Fatalf("aspect %q produced non-positive dimensions %dx%d", aspect, w, h)
		}
		if got := AspectFromDimensions(w, h); got != aspect {
			t.Fatalf("round trip for %q gave %q (%dx%d)", aspect, got, w, h)
		}
	}
}

func TestPhaseTransitions(t *testing.T) {
	if !PhaseSubmitted.CanTransition(PhasePolling) {
		t.Fatal("SUBMITTED must allow POLLING")
	}
	if !PhasePolling.CanTransition(PhaseCompleted) {
		t.Fatal("POLLING must allow COMPLETED")
	}
	if PhaseCompleted.CanTransition(PhasePolling) {
		t.Fatal("terminal phase must not transition")
	}
	if PhasePolling.CanTransition(PhaseSubmitted) {
		t.Fatal("phases must not move backwards")
	}

	op := Operation{Phase: PhaseSubmitted}
	op = op.Advance(PhasePolling)
	if op.Phase != PhasePolling {
		t.Fatalf("Advance to POLLING gave %q", op.Phase)
	}
	op = op.Advance(PhaseFailed)
	if op.Phase != PhaseFailed {
		t.Fatalf("Advance to FAILED gave %q", op.Phase)
	}
	same := op.Advance(PhaseCompleted)
	if same.Phase != PhaseFailed {
		t.Fatalf("illegal Advance changed phase to %q", same.Phase)
	}
}

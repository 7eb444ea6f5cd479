package utils

import "testing"

func TestClamp(t *testing.T) {
	if Clamp(0.5, 0, 1) != 0.5 {
		t.Error("in-range value changed")
	}
	if Clamp(-0.2, 0, 1) != 0 {
		t.Error("below range not clamped")
	}
	if Clamp(1.7, 0, 1) != 1 {
		t.Error("above range not clamped")
	}
}

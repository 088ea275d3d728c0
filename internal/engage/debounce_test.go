package engage

import (
	"testing"
	"time"
)

func TestDebounceCooldownWindow(t *testing.T) {
	d := NewDebounce(5 * time.Second)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	if !d.TryAccept(1, base) {
		t.Fatal("first raise should be accepted")
	}
	if d.TryAccept(1, base.Add(3*time.Second)) {
		t.Fatal("raise 3s after acceptance should be rejected")
	}
	if d.TryAccept(1, base.Add(5*time.Second)) {
		t.Fatal("raise exactly at the cooldown boundary should be rejected")
	}
	if !d.TryAccept(1, base.Add(6*time.Second)) {
		t.Fatal("raise 6s after acceptance should be accepted")
	}
}

func TestDebounceRejectionDoesNotExtendWindow(t *testing.T) {
	d := NewDebounce(5 * time.Second)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	d.TryAccept(1, base)
	// Rejected raises inside the window must not push the window forward.
	d.TryAccept(1, base.Add(4*time.Second))
	if !d.TryAccept(1, base.Add(6*time.Second)) {
		t.Fatal("window should still be anchored to the first acceptance")
	}
}

func TestDebouncePerStudent(t *testing.T) {
	d := NewDebounce(5 * time.Second)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	if !d.TryAccept(1, base) {
		t.Fatal("student 1 should be accepted")
	}
	if !d.TryAccept(2, base) {
		t.Fatal("student 2 has their own window")
	}
}

func TestDebounceReset(t *testing.T) {
	d := NewDebounce(5 * time.Second)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	d.TryAccept(1, base)
	d.Reset()
	if !d.TryAccept(1, base.Add(time.Second)) {
		t.Fatal("reset should clear the stored timestamp")
	}
}

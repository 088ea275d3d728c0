package engage

import (
	"sync"
	"time"
)

// Debounce suppresses repeated hand-raise events per student. A sustained
// gesture at ~30 frames/s would otherwise log dozens of raises; only the
// first acceptance inside each cooldown window goes through.
type Debounce struct {
	cooldown time.Duration
	mu       sync.Mutex
	last     map[int]time.Time
}

// NewDebounce creates a tracker with the given cooldown.
func NewDebounce(cooldown time.Duration) *Debounce {
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	return &Debounce{
		cooldown: cooldown,
		last:     make(map[int]time.Time),
	}
}

// TryAccept reports whether a hand raise for studentID at now should be
// accepted. Acceptance records now as the student's last raise; rejection
// leaves the stored timestamp untouched.
func (d *Debounce) TryAccept(studentID int, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.last[studentID]
	if ok && now.Sub(last) <= d.cooldown {
		return false
	}
	d.last[studentID] = now
	return true
}

// Reset clears all stored timestamps.
func (d *Debounce) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = make(map[int]time.Time)
}

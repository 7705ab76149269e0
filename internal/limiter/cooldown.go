package limiter

import "time"

// DefaultProfileCooldown is the minimum time between two donor profile edits.
const DefaultProfileCooldown = 7 * 24 * time.Hour

// Cooldown gates how often an entity may be mutated.
type Cooldown struct {
	Window time.Duration
}

// Decision is a cooldown check result. NextEligibleAt and Remaining are zero when Allowed.
type Decision struct {
	Allowed        bool
	NextEligibleAt time.Time
	Remaining      time.Duration
}

// NewCooldown returns a Cooldown; window <= 0 selects DefaultProfileCooldown.
func NewCooldown(window time.Duration) Cooldown {
	if window <= 0 {
		window = DefaultProfileCooldown
	}
	return Cooldown{Window: window}
}

// Check allows the mutation when there was no previous one or now-last >= Window.
func (c Cooldown) Check(last *time.Time, now time.Time) Decision {
	if last == nil || last.IsZero() {
		return Decision{Allowed: true}
	}
	next := last.Add(c.Window)
	if !now.Before(next) {
		return Decision{Allowed: true}
	}
	return Decision{NextEligibleAt: next, Remaining: next.Sub(now)}
}

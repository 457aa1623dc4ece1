package shortener

import "time"

// IsUsable reports whether m may be resolved at now.
// A mapping expires strictly after ExpiresAt; the instant itself is still usable.
func IsUsable(m Mapping, now time.Time) bool {
	if !m.IsActive {
		return false
	}
	return m.ExpiresAt == nil || !now.After(*m.ExpiresAt)
}

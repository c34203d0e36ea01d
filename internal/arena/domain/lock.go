package domain

import "time"

// Lock is the global advance-lock record: an exclusive-ownership token with
// a TTL so a crashed holder never wedges the arena. Acquisition is
// compare-and-set at the storage layer, not an in-process mutex, because
// multiple orchestrator instances may run against the same datastore.
type Lock struct {
	Holder    string
	ExpiresAt time.Time
}

// Held reports whether the lock is currently owned at the given instant.
func (l Lock) Held(now time.Time) bool {
	return l.Holder != "" && l.ExpiresAt.After(now)
}

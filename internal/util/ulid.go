package util

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New generates a ULID for the current time. IDs from one process sort in
// creation order, which GetPending relies on as its tie-breaker.
func New() string {
	return NewAt(time.Now())
}

// NewAt generates a ULID with the timestamp of t.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Package ids issues ULID record identifiers. Identifiers minted for the
// same millisecond sort in issue order.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns an identifier stamped with the wall clock.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns an identifier stamped with t, so records created under an
// injected clock sort by that clock.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Time extracts the creation timestamp from id.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()).UTC(), nil
}

// Valid reports whether id is a well-formed identifier.
func Valid(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

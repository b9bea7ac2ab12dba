package store

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	pushMu      sync.Mutex
	pushEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewPushKey returns a time ordered ULID key. Keys returned within one process
// are strictly increasing.
func NewPushKey() (string, error) {
	pushMu.Lock()
	defer pushMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), pushEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

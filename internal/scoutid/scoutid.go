// Package scoutid hands out the process-wide session identifier that is
// attached to every audit event a process emits.
package scoutid

import (
	"sync"

	"github.com/google/uuid"
)

var (
	sessionID string
	once      sync.Once
)

// Session returns the UUID identifying this process, generating it on the
// first call and reusing it for the lifetime of the process.
func Session() string {
	once.Do(func() {
		sessionID = uuid.NewString()
	})
	return sessionID
}

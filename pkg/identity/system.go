package identity

import (
	"errors"
	"sync"
)

// ErrSystemContextUninitialized is returned when the system context is read
// before bootstrap set it. Operations that need it must fail, not fall back.
var ErrSystemContextUninitialized = errors.New("system user context has not been initialized")

// systemContext is the one process-wide mutable cell: set once during
// migrations (multi-tenant) or by the caller (single-tenant), read-only after.
var (
	systemMu      sync.RWMutex
	systemContext *UserContext
)

// InitializeSystemContext installs the process-wide system context. orgID is
// the meta-org id in multi-tenant mode, empty otherwise. Calling it twice
// replaces the previous value; that only happens in tests and resets.
func InitializeSystemContext(user map[string]any, orgID string) {
	systemMu.Lock()
	defer systemMu.Unlock()
	systemContext = &UserContext{User: user, OrgID: orgID, IsSystem: true}
}

// SystemContextInitialized reports whether bootstrap has run.
func SystemContextInitialized() bool {
	systemMu.RLock()
	defer systemMu.RUnlock()
	return systemContext != nil
}

// SystemContext returns the process-wide system context, or
// ErrSystemContextUninitialized when bootstrap has not run. Never initialize
// lazily from a request path.
func SystemContext() (UserContext, error) {
	systemMu.RLock()
	defer systemMu.RUnlock()
	if systemContext == nil {
		return UserContext{}, ErrSystemContextUninitialized
	}
	return *systemContext, nil
}

// ResetSystemContext clears the system context. Test helper.
func ResetSystemContext() {
	systemMu.Lock()
	defer systemMu.Unlock()
	systemContext = nil
}

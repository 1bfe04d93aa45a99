package types

// CacheState is the lifecycle marker of the local cache. Only Valid and
// Empty are usable for reads; every other state signals that the cache
// must be rebuilt from the remote source.
type CacheState string

const (
	StateUninitialized CacheState = "uninitialized"
	StateEmpty         CacheState = "empty"
	StateStale         CacheState = "stale"
	StateError         CacheState = "error"
	StateValid         CacheState = "valid"
)

// Usable reports whether cached reads can be trusted in this state.
func (s CacheState) Usable() bool {
	return s == StateValid || s == StateEmpty
}

// ParseCacheState maps a stored state string back to a CacheState.
// Unknown values decay to StateError.
func ParseCacheState(s string) CacheState {
	switch CacheState(s) {
	case StateUninitialized, StateEmpty, StateStale, StateError, StateValid:
		return CacheState(s)
	}
	return StateError
}

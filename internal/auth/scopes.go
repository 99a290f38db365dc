package auth

// Scopes understood by the sync API.
const (
	ScopeSyncRead  = "sync:read"
	ScopeSyncWrite = "sync:write"
	// ScopeSyncAdmin grants access to every user and to queue administration.
	ScopeSyncAdmin = "sync:admin"
)

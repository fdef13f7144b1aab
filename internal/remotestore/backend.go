package remotestore

import "context"

// Backend is the contract consumed by the orchestrator from spec.md §6:
// get/put/remove plus a best-effort shutdown for long-lived helpers.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores value at key. With overwrite=false it must be a strict
	// no-op (returns stored=false, err=nil) on key collision.
	Put(ctx context.Context, key string, value []byte, overwrite bool) (stored bool, err error)
	Remove(ctx context.Context, key string) (removed bool, err error)
	Stop()
}

// BackendFactory constructs a Backend for a shard URL. The orchestrator
// treats a construction-time error identically to a runtime one (spec.md
// §4.7 "Construction-time failures are treated the same").
type BackendFactory func(url string) (Backend, error)

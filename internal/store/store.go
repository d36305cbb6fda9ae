// Package store defines the durable content store used by all Murattil
// subsystems: a key-value mapping from string keys to either binary payloads
// (recorded audio) or JSON-serialised values (recording metadata, cached
// reference text, correction history, user preferences).
//
// The store is partitioned into named regions — see [Region]. A key is unique
// within its region; writing an existing key overwrites both the value and its
// creation timestamp (last-write-wins, no versioning). Deletion is explicit;
// entries never expire on their own.
//
// Two implementations are provided in this package:
//
//   - [SQLiteStore] — the production store, backed by an embedded SQLite
//     database so content survives process restarts and works fully offline.
//   - [MemStore] — a volatile in-memory store for tests and ephemeral use.
//
// Every implementation must be safe for concurrent use; each operation is
// atomic at single-key granularity.
package store

import (
	"context"
	"errors"
)

// Region names a partition of the content store. Keys are unique per region,
// not globally.
type Region string

const (
	// RegionAudio holds binary audio blobs keyed by recording ID.
	RegionAudio Region = "audio"

	// RegionData holds structured JSON values keyed by semantic name
	// (e.g. "metadata_<id>", cached verse text, the correction history).
	RegionData Region = "data"

	// RegionPreference holds user preferences keyed by setting name.
	RegionPreference Region = "preference"
)

// IsValid reports whether r is a recognised region.
func (r Region) IsValid() bool {
	switch r {
	case RegionAudio, RegionData, RegionPreference:
		return true
	}
	return false
}

// Regions lists every store region, in a stable order. Used by ClearAll
// implementations and by tests that iterate the full keyspace.
var Regions = []Region{RegionAudio, RegionData, RegionPreference}

// ErrNotReady is returned by every operation on a store whose backing
// database could not be opened or has been closed. Callers should surface the
// failure rather than retry indefinitely.
var ErrNotReady = errors.New("store: not ready")

// ErrInvalidRegion is returned when an operation names a region outside the
// [Regions] set.
var ErrInvalidRegion = errors.New("store: invalid region")

// Usage is best-effort storage telemetry. Both fields are zero when the
// platform cannot report usage — that is not an error condition.
type Usage struct {
	// UsedBytes is the approximate number of bytes occupied by stored content.
	UsedBytes uint64

	// QuotaBytes is the capacity available to the store (typically the size
	// of the volume holding the backing database). Zero when unknown.
	QuotaBytes uint64
}

// ContentStore is the durable key-value contract shared by all Murattil
// subsystems. Absence is never an error: Get methods report it through their
// boolean return, and Delete of an absent key succeeds silently.
//
// Write and read failures on a ready store are reported per-call and are not
// retried by the store itself — retry policy belongs to the caller.
type ContentStore interface {
	// PutBytes writes or overwrites a binary entry.
	PutBytes(ctx context.Context, region Region, key string, payload []byte) error

	// PutJSON marshals value to JSON and writes or overwrites the entry.
	PutJSON(ctx context.Context, region Region, key string, value any) error

	// GetBytes returns the binary payload stored under (region, key).
	// The boolean is false when the key is absent.
	GetBytes(ctx context.Context, region Region, key string) ([]byte, bool, error)

	// GetJSON unmarshals the stored JSON value into out.
	// The boolean is false when the key is absent; out is left untouched.
	GetJSON(ctx context.Context, region Region, key string, out any) (bool, error)

	// Delete removes the entry under (region, key). Deleting an absent key
	// is not an error.
	Delete(ctx context.Context, region Region, key string) error

	// Keys returns all keys present in region, in unspecified order.
	// Returns an empty (non-nil) slice when the region is empty.
	Keys(ctx context.Context, region Region) ([]string, error)

	// ClearAll wipes every region. Intended only for an explicit
	// user-triggered reset.
	ClearAll(ctx context.Context) error

	// Usage returns best-effort storage telemetry. Telemetry-only failures
	// yield a zero [Usage], not an error.
	Usage(ctx context.Context) (Usage, error)

	// Close releases the backing database. Subsequent operations fail with
	// [ErrNotReady]. Close is idempotent.
	Close() error
}

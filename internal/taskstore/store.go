// Package taskstore holds the last-known provider result for each image
// generation task, keyed by the provider-assigned task ID.
//
// The callback endpoint is the only writer and the poll endpoint the only
// destructive reader. The two usually run in different processes, so the
// store is an interface with three backends:
//
//   - MemoryStore: a mutex-guarded map with a periodic sweep. Valid only
//     when one process serves every request (local development).
//   - RedisStore: SET with EX per key; shared across instances.
//   - DynamoStore: one item per task with a DynamoDB TTL attribute.
//
// Every backend applies the TTL on read as well, so a record older than the
// TTL is never returned even when the backend has not evicted it yet.
package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DefaultTTL is how long a record stays visible after its last write.
const DefaultTTL = time.Hour

// ErrStoreUnavailable wraps backend failures (network, throttling, decode).
var ErrStoreUnavailable = errors.New("task store unavailable")

// ErrEmptyTaskID is returned when a caller passes an empty key.
var ErrEmptyTaskID = errors.New("task ID is empty")

// ErrNilRecord is returned when Put is given no record.
var ErrNilRecord = errors.New("task record is nil")

// Record is the last result the provider reported for a task.
//
// Payload is the provider's "data" envelope, kept verbatim. Its shape
// differs between success and each failure code, so it is not decoded here.
type Record struct {
	TaskID     string          `json:"taskId"`
	Code       int             `json:"code"`
	Message    string          `json:"msg"`
	Payload    json.RawMessage `json:"data,omitempty"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// Store is the task registry. Implementations must be safe for concurrent
// use and atomic per key; no cross-key guarantees are required.
//
// Get returns (nil, nil) when the record does not exist or has expired.
// Put replaces any existing record in full and stamps RecordedAt. It
// rejects an empty ID or a nil record without touching the backend.
// Delete of a missing key is not an error.
type Store interface {
	Put(ctx context.Context, taskID string, rec *Record) error
	Get(ctx context.Context, taskID string) (*Record, error)
	Delete(ctx context.Context, taskID string) error
}

// expired reports whether a record written at recordedAt is past its TTL at now.
func expired(recordedAt time.Time, ttl time.Duration, now time.Time) bool {
	return !now.Before(recordedAt.Add(ttl))
}

// clone returns a deep copy so callers never share payload bytes with the store.
func (r *Record) clone() *Record {
	out := *r
	if r.Payload != nil {
		out.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return &out
}

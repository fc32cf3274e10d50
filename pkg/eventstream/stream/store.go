// Package stream is the client side of the append-only log broker.
//
// Store captures the broker command contract the event runtime depends on:
// append with approximate trimming, consumer-group reads, acknowledgment,
// pending listing and claim of stale entries. RedisStore talks to Redis
// Streams; MemoryStore implements the same semantics in-process.
package stream

import (
	"context"
	"errors"
	"time"
)

// Store is an append-only log broker with consumer groups.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds record to the end of stream and returns the broker-assigned
	// entry ID. The stream is approximately trimmed to maxLen entries when
	// maxLen > 0.
	Append(ctx context.Context, stream string, record map[string]string, maxLen int64) (string, error)

	// CreateGroup creates a consumer group positioned at start, creating the
	// stream if it does not exist. Returns ErrGroupExists if the group is
	// already there.
	CreateGroup(ctx context.Context, stream, group, start string) error

	// ReadGroup reads entries for a consumer of a group. A block timeout with
	// no data returns an empty result and a nil error.
	ReadGroup(ctx context.Context, args ReadGroupArgs) ([]Messages, error)

	// Ack acknowledges entries, removing them from the group's pending list.
	// Returns the number of entries that were pending.
	Ack(ctx context.Context, stream, group string, ids ...string) (int64, error)

	// Pending lists up to count delivered-but-unacknowledged entries.
	Pending(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error)

	// Claim transfers ownership of the given entries to args.Consumer if they
	// have been idle for at least args.MinIdle. Returns the claimed IDs.
	Claim(ctx context.Context, args ClaimArgs) ([]string, error)

	// Info describes a stream.
	Info(ctx context.Context, stream string) (Info, error)

	// Ping checks broker connectivity.
	Ping(ctx context.Context) error

	// Close releases connections.
	Close() error
}

// Group start positions.
const (
	// StartBeginning positions a new group before the first entry.
	StartBeginning = "0"

	// StartNew positions a new group after the last entry, so only entries
	// appended from now on are delivered.
	StartNew = "$"
)

// Read positions for ReadGroup.
const (
	// ReadNew reads entries never delivered to the group.
	ReadNew = ">"

	// ReadPending re-reads the consumer's own pending entries.
	ReadPending = "0"
)

// ReadGroupArgs configures a consumer-group read.
type ReadGroupArgs struct {
	Group    string
	Consumer string
	Streams  []string
	Start    string        // ReadNew or ReadPending; empty means ReadNew
	Count    int64         // Max entries per stream; 0 means broker default
	Block    time.Duration // Wait for new entries; 0 waits until ctx is done, < 0 doesn't wait
}

// ClaimArgs configures a claim.
type ClaimArgs struct {
	Stream   string
	Group    string
	Consumer string
	MinIdle  time.Duration
	IDs      []string
}

// Message is one stream entry.
type Message struct {
	ID     string
	Values map[string]string
}

// Messages are the entries read from one stream.
type Messages struct {
	Stream   string
	Messages []Message
}

// PendingEntry describes a delivered but unacknowledged entry.
type PendingEntry struct {
	ID            string
	Consumer      string        // Current owner
	Idle          time.Duration // Time since last delivery
	DeliveryCount int64         // Incremented on every claim
}

// Info describes a stream.
type Info struct {
	Length     int64
	Groups     int64
	FirstEntry *Message
	LastEntry  *Message
}

// Sentinel errors for store operations.
var (
	// ErrGroupExists indicates CreateGroup found an existing group.
	ErrGroupExists = errors.New("consumer group already exists")

	// ErrNoGroup indicates the stream or group does not exist.
	ErrNoGroup = errors.New("no such stream or consumer group")

	// ErrNoStream indicates the stream does not exist.
	ErrNoStream = errors.New("no such stream")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("stream store closed")
)

// Total returns the number of messages across all streams in batches.
func Total(batches []Messages) int {
	n := 0
	for _, b := range batches {
		n += len(b.Messages)
	}
	return n
}

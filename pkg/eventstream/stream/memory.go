package stream

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process broker with Redis Streams semantics.
// It is intended for tests and single-process demos; data is lost on exit.
type MemoryStore struct {
	mu      sync.Mutex
	streams map[string]*memStream
	closed  bool
	now     func() time.Time

	// appended is closed and replaced on every append to wake blocked readers.
	appended chan struct{}
}

type memStream struct {
	entries []Message
	last    entryID
	groups  map[string]*memGroup
}

type memGroup struct {
	lastDelivered entryID
	pending       map[string]*memPending
}

type memPending struct {
	id            entryID
	consumer      string
	deliveredAt   time.Time
	deliveryCount int64
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, e.g. to control idle times in tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore creates an empty in-memory broker.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		streams:  make(map[string]*memStream),
		now:      time.Now,
		appended: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// Append implements Store. Trimming is exact, which satisfies the
// approximate contract.
func (m *MemoryStore) Append(ctx context.Context, stream string, record map[string]string, maxLen int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrStoreClosed
	}

	s := m.streamLocked(stream)
	id := entryID{ms: uint64(m.now().UnixMilli())}
	if id.ms <= s.last.ms {
		id = entryID{ms: s.last.ms, seq: s.last.seq + 1}
	}
	s.last = id
	s.entries = append(s.entries, Message{ID: id.String(), Values: copyValues(record)})

	if maxLen > 0 && int64(len(s.entries)) > maxLen {
		s.entries = append([]Message(nil), s.entries[int64(len(s.entries))-maxLen:]...)
	}

	close(m.appended)
	m.appended = make(chan struct{})

	return id.String(), nil
}

// CreateGroup implements Store.
func (m *MemoryStore) CreateGroup(ctx context.Context, stream, group, start string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	s := m.streamLocked(stream)
	if _, ok := s.groups[group]; ok {
		return ErrGroupExists
	}

	var pos entryID
	switch start {
	case StartNew:
		pos = s.last
	case StartBeginning, "":
	default:
		id, err := parseEntryID(start)
		if err != nil {
			return err
		}
		pos = id
	}

	s.groups[group] = &memGroup{
		lastDelivered: pos,
		pending:       make(map[string]*memPending),
	}
	return nil
}

// ReadGroup implements Store.
func (m *MemoryStore) ReadGroup(ctx context.Context, args ReadGroupArgs) ([]Messages, error) {
	var deadline <-chan time.Time
	if args.Block > 0 {
		timer := time.NewTimer(args.Block)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrStoreClosed
		}
		result, err := m.readLocked(args)
		wake := m.appended
		m.mu.Unlock()

		if err != nil || len(result) > 0 {
			return result, err
		}
		if args.Start == ReadPending || args.Block < 0 {
			return nil, nil
		}

		select {
		case <-wake:
		case <-deadline:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *MemoryStore) readLocked(args ReadGroupArgs) ([]Messages, error) {
	now := m.now()
	var result []Messages

	for _, name := range args.Streams {
		s, ok := m.streams[name]
		if !ok {
			return nil, fmt.Errorf("read %s: %w", name, ErrNoGroup)
		}
		g, ok := s.groups[args.Group]
		if !ok {
			return nil, fmt.Errorf("read %s/%s: %w", name, args.Group, ErrNoGroup)
		}

		var msgs []Message
		if args.Start == ReadPending {
			msgs = s.ownPending(g, args.Consumer, args.Count)
		} else {
			for _, e := range s.entries {
				if args.Count > 0 && int64(len(msgs)) >= args.Count {
					break
				}
				id, _ := parseEntryID(e.ID)
				if !g.lastDelivered.less(id) {
					continue
				}
				g.lastDelivered = id
				g.pending[e.ID] = &memPending{
					id:            id,
					consumer:      args.Consumer,
					deliveredAt:   now,
					deliveryCount: 1,
				}
				msgs = append(msgs, Message{ID: e.ID, Values: copyValues(e.Values)})
			}
		}

		if len(msgs) > 0 {
			result = append(result, Messages{Stream: name, Messages: msgs})
		}
	}
	return result, nil
}

// ownPending returns the consumer's pending entries in ID order. Entries
// trimmed from the stream come back with nil values, as Redis does.
func (s *memStream) ownPending(g *memGroup, consumer string, count int64) []Message {
	owned := make([]*memPending, 0)
	for _, p := range g.pending {
		if p.consumer == consumer {
			owned = append(owned, p)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].id.less(owned[j].id) })

	var msgs []Message
	for _, p := range owned {
		if count > 0 && int64(len(msgs)) >= count {
			break
		}
		msg := Message{ID: p.id.String()}
		if e, ok := s.find(msg.ID); ok {
			msg.Values = copyValues(e.Values)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func (s *memStream) find(id string) (Message, bool) {
	i := sort.Search(len(s.entries), func(i int) bool {
		eid, _ := parseEntryID(s.entries[i].ID)
		target, _ := parseEntryID(id)
		return !eid.less(target)
	})
	if i < len(s.entries) && s.entries[i].ID == id {
		return s.entries[i], true
	}
	return Message{}, false
}

// Ack implements Store.
func (m *MemoryStore) Ack(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	g := m.groupLocked(stream, group)
	if g == nil {
		return 0, nil
	}

	var acked int64
	for _, id := range ids {
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			acked++
		}
	}
	return acked, nil
}

// Pending implements Store.
func (m *MemoryStore) Pending(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	g := m.groupLocked(stream, group)
	if g == nil {
		return nil, fmt.Errorf("pending %s/%s: %w", stream, group, ErrNoGroup)
	}

	all := make([]*memPending, 0, len(g.pending))
	for _, p := range g.pending {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id.less(all[j].id) })

	now := m.now()
	entries := make([]PendingEntry, 0, len(all))
	for _, p := range all {
		if count > 0 && int64(len(entries)) >= count {
			break
		}
		entries = append(entries, PendingEntry{
			ID:            p.id.String(),
			Consumer:      p.consumer,
			Idle:          now.Sub(p.deliveredAt),
			DeliveryCount: p.deliveryCount,
		})
	}
	return entries, nil
}

// Claim implements Store.
func (m *MemoryStore) Claim(ctx context.Context, args ClaimArgs) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	g := m.groupLocked(args.Stream, args.Group)
	if g == nil {
		return nil, fmt.Errorf("claim %s/%s: %w", args.Stream, args.Group, ErrNoGroup)
	}

	now := m.now()
	claimed := make([]string, 0, len(args.IDs))
	for _, id := range args.IDs {
		p, ok := g.pending[id]
		if !ok || now.Sub(p.deliveredAt) < args.MinIdle {
			continue
		}
		p.consumer = args.Consumer
		p.deliveredAt = now
		p.deliveryCount++
		claimed = append(claimed, id)
	}
	return claimed, nil
}

// Info implements Store.
func (m *MemoryStore) Info(ctx context.Context, stream string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Info{}, ErrStoreClosed
	}

	s, ok := m.streams[stream]
	if !ok {
		return Info{}, fmt.Errorf("info %s: %w", stream, ErrNoStream)
	}

	info := Info{
		Length: int64(len(s.entries)),
		Groups: int64(len(s.groups)),
	}
	if n := len(s.entries); n > 0 {
		first := Message{ID: s.entries[0].ID, Values: copyValues(s.entries[0].Values)}
		last := Message{ID: s.entries[n-1].ID, Values: copyValues(s.entries[n-1].Values)}
		info.FirstEntry = &first
		info.LastEntry = &last
	}
	return info, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.appended)
	m.appended = make(chan struct{})
	return nil
}

// Len returns the number of entries in stream. Useful for testing.
func (m *MemoryStore) Len(stream string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.streams[stream]; ok {
		return len(s.entries)
	}
	return 0
}

func (m *MemoryStore) streamLocked(name string) *memStream {
	s, ok := m.streams[name]
	if !ok {
		s = &memStream{groups: make(map[string]*memGroup)}
		m.streams[name] = s
	}
	return s
}

func (m *MemoryStore) groupLocked(stream, group string) *memGroup {
	s, ok := m.streams[stream]
	if !ok {
		return nil
	}
	return s.groups[group]
}

func copyValues(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// entryID is a Redis-style "<millis>-<seq>" stream ID.
type entryID struct {
	ms  uint64
	seq uint64
}

func parseEntryID(s string) (entryID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return entryID{}, fmt.Errorf("invalid stream ID %q", s)
	}
	var seq uint64
	if hasSeq {
		seq, err = strconv.ParseUint(seqPart, 10, 64)
		if err != nil {
			return entryID{}, fmt.Errorf("invalid stream ID %q", s)
		}
	}
	return entryID{ms: ms, seq: seq}, nil
}

func (id entryID) String() string {
	return strconv.FormatUint(id.ms, 10) + "-" + strconv.FormatUint(id.seq, 10)
}

func (id entryID) less(other entryID) bool {
	if id.ms != other.ms {
		return id.ms < other.ms
	}
	return id.seq < other.seq
}

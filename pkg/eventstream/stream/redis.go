package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis Streams.
type RedisStore struct {
	client redis.UniversalClient
}

// RedisConfig configures the connection pool used by DialRedis.
type RedisConfig struct {
	URL            string        // e.g. redis://localhost:6379/0
	PoolSize       int           // Default: go-redis default
	SocketTimeout  time.Duration // Read/write timeout
	ConnectTimeout time.Duration // Dial timeout
}

// DialRedis connects to Redis and verifies the connection with PING.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.SocketTimeout > 0 {
		opts.ReadTimeout = cfg.SocketTimeout
		opts.WriteTimeout = cfg.SocketTimeout
	}
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout
	}
	// Let cancellation interrupt blocking XREADGROUP calls.
	opts.ContextTimeoutEnabled = true

	store := NewRedisStore(redis.NewClient(opts))
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// NewRedisStore wraps an existing client. The store owns the client and
// closes it on Close.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// Append implements Store with XADD MAXLEN ~.
func (s *RedisStore) Append(ctx context.Context, stream string, record map[string]string, maxLen int64) (string, error) {
	values := make(map[string]any, len(record))
	for k, v := range record {
		values[k] = v
	}

	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: maxLen > 0,
		Values: values,
	}).Result()
	if err != nil {
		return "", redisErr("xadd "+stream, err)
	}
	return id, nil
}

// CreateGroup implements Store with XGROUP CREATE ... MKSTREAM.
func (s *RedisStore) CreateGroup(ctx context.Context, stream, group, start string) error {
	if start == "" {
		start = StartBeginning
	}
	err := s.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil {
		if isBusyGroup(err) {
			return ErrGroupExists
		}
		return fmt.Errorf("xgroup create %s/%s: %w", stream, group, err)
	}
	return nil
}

// ReadGroup implements Store with XREADGROUP.
func (s *RedisStore) ReadGroup(ctx context.Context, args ReadGroupArgs) ([]Messages, error) {
	start := args.Start
	if start == "" {
		start = ReadNew
	}

	// XREADGROUP takes all stream names followed by one position per stream.
	streams := make([]string, 0, len(args.Streams)*2)
	streams = append(streams, args.Streams...)
	for range args.Streams {
		streams = append(streams, start)
	}

	block := args.Block
	if start != ReadNew {
		block = -1
	}

	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  streams,
		Count:    args.Count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if isNoGroup(err) {
			return nil, fmt.Errorf("xreadgroup %s: %w: %v", args.Group, ErrNoGroup, err)
		}
		return nil, redisErr("xreadgroup "+args.Group, err)
	}

	out := make([]Messages, 0, len(res))
	for _, xs := range res {
		if len(xs.Messages) == 0 {
			continue
		}
		msgs := make([]Message, 0, len(xs.Messages))
		for _, xm := range xs.Messages {
			msgs = append(msgs, fromXMessage(xm))
		}
		out = append(out, Messages{Stream: xs.Stream, Messages: msgs})
	}
	return out, nil
}

// Ack implements Store with XACK.
func (s *RedisStore) Ack(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	n, err := s.client.XAck(ctx, stream, group, ids...).Result()
	if err != nil {
		return 0, redisErr("xack "+stream+"/"+group, err)
	}
	return n, nil
}

// Pending implements Store with the extended form of XPENDING.
func (s *RedisStore) Pending(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error) {
	res, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if isNoGroup(err) {
			return nil, fmt.Errorf("xpending %s/%s: %w: %v", stream, group, ErrNoGroup, err)
		}
		return nil, fmt.Errorf("xpending %s/%s: %w", stream, group, err)
	}

	entries := make([]PendingEntry, 0, len(res))
	for _, p := range res {
		entries = append(entries, PendingEntry{
			ID:            p.ID,
			Consumer:      p.Consumer,
			Idle:          p.Idle,
			DeliveryCount: p.RetryCount,
		})
	}
	return entries, nil
}

// Claim implements Store with XCLAIM. The non-JUSTID form is used so Redis
// increments the delivery count.
func (s *RedisStore) Claim(ctx context.Context, args ClaimArgs) ([]string, error) {
	if len(args.IDs) == 0 {
		return nil, nil
	}
	res, err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   args.Stream,
		Group:    args.Group,
		Consumer: args.Consumer,
		MinIdle:  args.MinIdle,
		Messages: args.IDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s/%s: %w", args.Stream, args.Group, err)
	}

	ids := make([]string, 0, len(res))
	for _, xm := range res {
		ids = append(ids, xm.ID)
	}
	return ids, nil
}

// Info implements Store with XINFO STREAM.
func (s *RedisStore) Info(ctx context.Context, stream string) (Info, error) {
	res, err := s.client.XInfoStream(ctx, stream).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return Info{}, fmt.Errorf("xinfo %s: %w", stream, ErrNoStream)
		}
		return Info{}, fmt.Errorf("xinfo %s: %w", stream, err)
	}

	info := Info{
		Length: res.Length,
		Groups: res.Groups,
	}
	if res.FirstEntry.ID != "" {
		first := fromXMessage(res.FirstEntry)
		info.FirstEntry = &first
	}
	if res.LastEntry.ID != "" {
		last := fromXMessage(res.LastEntry)
		info.LastEntry = &last
	}
	return info, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return redisErr("redis ping", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func fromXMessage(xm redis.XMessage) Message {
	var values map[string]string
	if xm.Values != nil {
		values = make(map[string]string, len(xm.Values))
		for k, v := range xm.Values {
			switch val := v.(type) {
			case string:
				values[k] = val
			case []byte:
				values[k] = string(val)
			default:
				values[k] = fmt.Sprint(val)
			}
		}
	}
	return Message{ID: xm.ID, Values: values}
}

// redisErr wraps err with op, mapping a closed client to ErrStoreClosed.
func redisErr(op string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%s: %w", op, ErrStoreClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isNoGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "NOGROUP")
}

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
	"github.com/sandeepkv93/clinic-survey-relay/internal/security"
)

// RedisStore keeps relay records as JSON strings, an owner-scoped sorted set
// of pending record ids scored by creation time, and a Pub/Sub channel per
// owner for insert notifications. Session snapshots are keyed by token
// fingerprint.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "relay"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger, now: time.Now}
}

func (s *RedisStore) Insert(ctx context.Context, rec domain.RelayRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	payload, err := domain.EncodeRelayRecord(rec)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(rec.ID), payload, 0)
	pipe.ZAdd(ctx, s.pendingKey(rec.OwnerID), redis.Z{Score: float64(rec.CreatedAt.UnixMicro()), Member: rec.ID})
	pipe.Publish(ctx, s.channel(rec.OwnerID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		observability.RecordRelayOperation(ctx, "insert", "error")
		return s.unavailable("insert", err)
	}
	observability.RecordRelayOperation(ctx, "insert", "success")
	return nil
}

func (s *RedisStore) ListUnconsumed(ctx context.Context, ownerID string) ([]domain.RelayRecord, error) {
	pendingKey := s.pendingKey(ownerID)
	ids, err := s.client.ZRange(ctx, pendingKey, 0, -1).Result()
	if err != nil {
		observability.RecordRelayOperation(ctx, "list_unconsumed", "error")
		return nil, s.unavailable("list unconsumed", err)
	}
	if len(ids) == 0 {
		observability.RecordRelayOperation(ctx, "list_unconsumed", "success")
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		observability.RecordRelayOperation(ctx, "list_unconsumed", "error")
		return nil, s.unavailable("list unconsumed", err)
	}

	out := make([]domain.RelayRecord, 0, len(ids))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		rec, err := domain.DecodeRelayRecord([]byte(raw))
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed relay record", "record_id", ids[i], "owner_id", ownerID, "error", err)
			observability.RecordRelayOperation(ctx, "decode", "malformed")
			continue
		}
		out = append(out, rec)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, pendingKey, stale...).Err(); err != nil {
			s.logger.WarnContext(ctx, "failed to prune stale relay index entries", "owner_id", ownerID, "error", err)
		}
	}
	observability.RecordRelayOperation(ctx, "list_unconsumed", "success")
	return out, nil
}

func (s *RedisStore) CountUnconsumed(ctx context.Context, ownerID string) (int64, error) {
	n, err := s.client.ZCard(ctx, s.pendingKey(ownerID)).Result()
	if err != nil {
		return 0, s.unavailable("count unconsumed", err)
	}
	return n, nil
}

func (s *RedisStore) Delete(ctx context.Context, recordID string) error {
	key := s.recordKey(recordID)
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		observability.RecordRelayOperation(ctx, "delete", "missing")
		return nil
	}
	if err != nil {
		observability.RecordRelayOperation(ctx, "delete", "error")
		return s.unavailable("delete", err)
	}
	var owner struct {
		OwnerID string `json:"owner_id"`
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if json.Unmarshal([]byte(raw), &owner) == nil && owner.OwnerID != "" {
		pipe.ZRem(ctx, s.pendingKey(owner.OwnerID), recordID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		observability.RecordRelayOperation(ctx, "delete", "error")
		return s.unavailable("delete", err)
	}
	observability.RecordRelayOperation(ctx, "delete", "success")
	return nil
}

// Subscribe confirms the channel subscription before returning, so records
// inserted afterwards are pushed to onInsert.
func (s *RedisStore) Subscribe(ctx context.Context, ownerID string, onInsert func(domain.RelayRecord)) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(ownerID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		observability.RecordRelayOperation(ctx, "subscribe", "error")
		return nil, s.unavailable("subscribe", err)
	}
	sub := &redisSubscription{pubsub: pubsub, done: make(chan struct{})}
	go sub.run(s.logger, ownerID, onInsert)
	observability.RecordRelayOperation(ctx, "subscribe", "success")
	return sub, nil
}

func (s *RedisStore) PutSessionSnapshot(ctx context.Context, token string, snap domain.SessionSnapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = minSnapshotTTL
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.snapshotKey(token), payload, ttl).Err(); err != nil {
		observability.RecordRelayOperation(ctx, "put_snapshot", "error")
		return s.unavailable("put snapshot", err)
	}
	observability.RecordRelayOperation(ctx, "put_snapshot", "success")
	return nil
}

func (s *RedisStore) GetSessionSnapshot(ctx context.Context, token string) (*domain.SessionSnapshot, error) {
	raw, err := s.client.Get(ctx, s.snapshotKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		observability.RecordRelayOperation(ctx, "get_snapshot", "error")
		return nil, s.unavailable("get snapshot", err)
	}
	var snap domain.SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode relay session snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisStore) TransitionSnapshot(ctx context.Context, token string, to domain.SessionStatus, at time.Time) (bool, error) {
	var changed bool
	err := s.updateSnapshot(ctx, token, func(snap *domain.SessionSnapshot) bool {
		changed = applyTransition(snap, to, at)
		return changed
	})
	return changed, err
}

func (s *RedisStore) ReopenSnapshot(ctx context.Context, token string) error {
	return s.updateSnapshot(ctx, token, reopen)
}

// updateSnapshot applies mutate under WATCH so concurrent remote submissions
// cannot both claim the same pending snapshot. The key keeps its TTL.
func (s *RedisStore) updateSnapshot(ctx context.Context, token string, mutate func(*domain.SessionSnapshot) bool) error {
	key := s.snapshotKey(token)
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrSnapshotNotFound
			}
			if err != nil {
				return err
			}
			var snap domain.SessionSnapshot
			if err := json.Unmarshal(raw, &snap); err != nil {
				return fmt.Errorf("decode relay session snapshot: %w", err)
			}
			if !mutate(&snap) {
				return nil
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, redis.KeepTTL)
				return nil
			})
			return err
		}, key)
		switch {
		case err == nil:
			observability.RecordRelayOperation(ctx, "update_snapshot", "success")
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrSnapshotNotFound):
			return err
		default:
			observability.RecordRelayOperation(ctx, "update_snapshot", "error")
			return s.unavailable("update snapshot", err)
		}
	}
	observability.RecordRelayOperation(ctx, "update_snapshot", "contended")
	return s.unavailable("update snapshot", redis.TxFailedErr)
}

func (s *RedisStore) DeleteSessionSnapshot(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.snapshotKey(token)).Err(); err != nil {
		return s.unavailable("delete snapshot", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (s *RedisStore) recordKey(id string) string {
	return fmt.Sprintf("%s:record:%s", s.prefix, id)
}

func (s *RedisStore) pendingKey(ownerID string) string {
	return fmt.Sprintf("%s:owner:%s:pending", s.prefix, ownerID)
}

func (s *RedisStore) channel(ownerID string) string {
	return fmt.Sprintf("%s:owner:%s:inserts", s.prefix, ownerID)
}

func (s *RedisStore) snapshotKey(token string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, security.SurveyTokenFingerprint(token))
}

type redisSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
	err    error
}

func (r *redisSubscription) run(logger *slog.Logger, ownerID string, onInsert func(domain.RelayRecord)) {
	defer close(r.done)
	for msg := range r.pubsub.Channel() {
		rec, err := domain.DecodeRelayRecord([]byte(msg.Payload))
		if err != nil {
			logger.Warn("dropping malformed relay push", "owner_id", ownerID, "error", err)
			continue
		}
		if rec.OwnerID != ownerID {
			continue
		}
		onInsert(rec)
	}
}

func (r *redisSubscription) Close() error {
	r.once.Do(func() {
		r.err = r.pubsub.Close()
	})
	<-r.done
	return r.err
}

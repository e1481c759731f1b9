package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"liquidityTiers/internal/model"
)

// DefaultTTL applies to every key the store writes.
const DefaultTTL = 24 * time.Hour

// ErrStoreUnavailable wraps any failure talking to Redis. Callers treat it as
// retryable.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrCorruptRecord marks a stored hash that no longer decodes.
var ErrCorruptRecord = errors.New("corrupt record")

// Options tunes the store. Zero values fall back to defaults.
type Options struct {
	Prefix string
	TTL    time.Duration
	Logger *zap.Logger
	Now    func() time.Time
}

// Store keeps the latest cycle's classifications in Redis.
type Store struct {
	client redis.UniversalClient
	keys   keys
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewStore(client redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		client: client,
		keys:   keys{prefix: opts.Prefix},
		ttl:    opts.TTL,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("PING", "", err)
	}
	return nil
}

// WriteCycle replaces the stored view with one cycle's classifications in a
// single MULTI/EXEC. Tier sets and the aggregate are rebuilt from scratch so
// a pool id lands in exactly one set. Pool records left over from earlier
// cycles are not deleted; they age out with their TTL.
func (s *Store) WriteCycle(ctx context.Context, classifications []model.Classification) (model.TierAggregate, error) {
	latest := dedupe(classifications)
	if skipped := len(classifications) - len(latest); skipped > 0 {
		s.logger.Warn("write cycle dropped duplicate or empty pool ids", zap.Int("dropped", skipped))
	}

	agg := model.NewTierAggregate(latest, s.now())
	members := make(map[model.Tier][]interface{}, len(model.Tiers))
	records := make([]map[string]interface{}, 0, len(latest))
	for _, c := range latest {
		fields, err := encodeClassification(c)
		if err != nil {
			return model.TierAggregate{}, fmt.Errorf("encode %s: %w", c.PoolID, err)
		}
		records = append(records, fields)
		members[c.Tier] = append(members[c.Tier], c.PoolID)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, c := range latest {
			key := s.keys.pool(c.PoolID)
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, records[i])
			pipe.Expire(ctx, key, s.ttl)
		}
		for _, tier := range model.Tiers {
			key := s.keys.tier(tier)
			pipe.Del(ctx, key)
			if ids := members[tier]; len(ids) > 0 {
				pipe.SAdd(ctx, key, ids...)
				pipe.Expire(ctx, key, s.ttl)
			}
		}
		statsKey := s.keys.stats()
		pipe.Del(ctx, statsKey)
		pipe.HSet(ctx, statsKey, encodeAggregate(agg))
		pipe.Expire(ctx, statsKey, s.ttl)
		return nil
	})
	if err != nil {
		return model.TierAggregate{}, unavailable("MULTI", "write cycle", err)
	}
	return agg, nil
}

// GetClassification returns the stored record, or ok=false when the pool was
// never classified or its record expired.
func (s *Store) GetClassification(ctx context.Context, poolID string) (model.Classification, bool, error) {
	if poolID == "" {
		return model.Classification{}, false, nil
	}
	key := s.keys.pool(poolID)
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return model.Classification{}, false, unavailable("HGETALL", key, err)
	}
	if len(fields) == 0 {
		return model.Classification{}, false, nil
	}
	c, err := decodeClassification(poolID, fields)
	if err != nil {
		return model.Classification{}, false, fmt.Errorf("%w: %s: %w", ErrCorruptRecord, key, err)
	}
	return c, true, nil
}

// ListByTier resolves the tier's membership set. Ids whose record expired or
// no longer carries this tier are skipped. Results are sorted by TVL
// descending.
func (s *Store) ListByTier(ctx context.Context, tier model.Tier) ([]model.Classification, error) {
	if _, err := model.ParseTier(string(tier)); err != nil {
		return nil, err
	}

	setKey := s.keys.tier(tier)
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, unavailable("SMEMBERS", setKey, err)
	}
	if len(ids) == 0 {
		return []model.Classification{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.keys.pool(id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("HGETALL", setKey, err)
	}

	out := make([]model.Classification, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		c, err := decodeClassification(ids[i], fields)
		if err != nil {
			s.logger.Warn("skip undecodable classification", zap.String("pool", ids[i]), zap.Error(err))
			continue
		}
		if c.Tier != tier {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TVL != out[j].TVL {
			return out[i].TVL > out[j].TVL
		}
		return out[i].PoolID < out[j].PoolID
	})
	return out, nil
}

// GetAggregate returns the last written aggregate, zero-filled when absent.
func (s *Store) GetAggregate(ctx context.Context) (model.TierAggregate, error) {
	key := s.keys.stats()
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return model.TierAggregate{}, unavailable("HGETALL", key, err)
	}
	if len(fields) == 0 {
		return model.TierAggregate{}, nil
	}
	agg, err := decodeAggregate(fields)
	if err != nil {
		return model.TierAggregate{}, fmt.Errorf("%w: %s: %w", ErrCorruptRecord, key, err)
	}
	return agg, nil
}

func dedupe(classifications []model.Classification) []model.Classification {
	index := make(map[string]int, len(classifications))
	out := make([]model.Classification, 0, len(classifications))
	for _, c := range classifications {
		if c.PoolID == "" {
			continue
		}
		if i, ok := index[c.PoolID]; ok {
			out[i] = c
			continue
		}
		index[c.PoolID] = len(out)
		out = append(out, c)
	}
	return out
}

func unavailable(cmd, key string, err error) error {
	if key == "" {
		return fmt.Errorf("%w: redis %s: %w", ErrStoreUnavailable, cmd, err)
	}
	return fmt.Errorf("%w: redis %s %s: %w", ErrStoreUnavailable, cmd, key, err)
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/internal/telemetry"
	"github.com/orchids/recipe-pipeline/pkg/logger"
)

const DefaultCacheTTL = 1800 * time.Second

// Key namespaces and their default TTLs.
const (
	KeyPrefixHealth  = "health"
	KeyPrefixHTML    = "html"
	KeyPrefixNote    = "note"
	KeyPrefixQueue   = "queue"
	KeyPrefixSession = "session"
	KeyPrefixMetrics = "metrics"

	TTLHealth  = 300 * time.Second
	TTLHTML    = 3600 * time.Second
	TTLNote    = 1800 * time.Second
	TTLQueue   = 60 * time.Second
	TTLSession = 86400 * time.Second
)

const (
	tagKeyPrefix  = "tag:"
	keyTagsPrefix = "tags:"
)

type CacheOptions struct {
	TTL  time.Duration
	Tags []string
}

type CacheEntry struct {
	Key     string
	Value   interface{}
	Options CacheOptions
}

// CacheService wraps redis as a connected/disconnected key-value cache with
// TTL, tag-based invalidation, and hit/miss statistics. Every data operation
// checks connectivity first and no-ops when disconnected; callers must
// tolerate cache absence rather than fail.
type CacheService struct {
	client    *redis.Client
	logger    *logger.Logger
	connected atomic.Bool

	hits      atomic.Int64
	misses    atomic.Int64
	keys      atomic.Int64
	memory    atomic.Int64
	lastReset atomic.Int64
}

func NewCacheService(client *redis.Client, log *logger.Logger) *CacheService {
	s := &CacheService{
		client: client,
		logger: log,
	}
	s.lastReset.Store(time.Now().UnixNano())
	return s
}

func (s *CacheService) Connect(ctx context.Context) error {
	if s.connected.Load() {
		return nil
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to cache: %w", err)
	}
	s.connected.Store(true)
	s.logger.Info(ctx, "cache connected", nil)
	return nil
}

func (s *CacheService) Disconnect(ctx context.Context) {
	if !s.connected.Swap(false) {
		return
	}
	s.logger.Info(ctx, "cache disconnected", nil)
}

func (s *CacheService) IsConnected() bool {
	return s.connected.Load()
}

// Get deserializes the value at key into dest. Any backend or deserialization
// failure counts as a miss and is never propagated.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) bool {
	if !s.connected.Load() || key == "" {
		s.miss()
		return false
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		s.miss()
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		s.miss()
		s.logger.Warn(ctx, "cache entry failed to deserialize", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return false
	}

	s.hit()
	return true
}

func (s *CacheService) hit() {
	s.hits.Add(1)
	telemetry.CacheHits.Inc()
}

func (s *CacheService) miss() {
	s.misses.Add(1)
	telemetry.CacheMisses.Inc()
}

// Set serializes value and writes it with a TTL, then fans the key into each
// tag's reverse index. Tag-index failures are logged but do not fail the set.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, opts CacheOptions) bool {
	if !s.connected.Load() || key == "" {
		return false
	}

	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn(ctx, "cache value failed to serialize", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return false
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.logger.Warn(ctx, "cache set failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return false
	}
	s.keys.Add(1)

	indexed := make([]interface{}, 0, len(opts.Tags))
	for _, tag := range opts.Tags {
		if tag == "" {
			continue
		}
		tagKey := tagKeyPrefix + tag
		if err := s.client.SAdd(ctx, tagKey, key).Err(); err != nil {
			s.logger.Warn(ctx, "failed to index cache key under tag", map[string]interface{}{
				"key":   key,
				"tag":   tag,
				"error": err.Error(),
			})
			continue
		}
		indexed = append(indexed, tag)
	}
	if len(indexed) > 0 {
		// Companion set records which tag indexes reference this key, so a
		// later Delete can clean the reverse index. It expires with the key.
		tagsKey := keyTagsPrefix + key
		if err := s.client.SAdd(ctx, tagsKey, indexed...).Err(); err == nil {
			s.client.Expire(ctx, tagsKey, ttl)
		}
	}

	return true
}

// pruneTagIndexes removes keys from every tag index their companion sets name
// and drops indexes left empty, so a tag index never outlives its members.
func (s *CacheService) pruneTagIndexes(ctx context.Context, keys ...string) {
	for _, key := range keys {
		tagsKey := keyTagsPrefix + key
		tags, err := s.client.SMembers(ctx, tagsKey).Result()
		if err != nil || len(tags) == 0 {
			continue
		}
		for _, tag := range tags {
			tagKey := tagKeyPrefix + tag
			if err := s.client.SRem(ctx, tagKey, key).Err(); err != nil {
				continue
			}
			if n, err := s.client.SCard(ctx, tagKey).Result(); err == nil && n == 0 {
				s.client.Del(ctx, tagKey)
			}
		}
		s.client.Del(ctx, tagsKey)
	}
}

// GetOrSet is a read-through: on a miss it invokes factory and writes the
// result back before returning it. Cache failures on either side never
// prevent returning the freshly computed value.
func (s *CacheService) GetOrSet(ctx context.Context, key string, dest interface{}, factory func(ctx context.Context) (interface{}, error), opts CacheOptions) error {
	if s.Get(ctx, key, dest) {
		return nil
	}

	value, err := factory(ctx)
	if err != nil {
		return fmt.Errorf("cache factory failed for key %q: %w", key, err)
	}

	s.Set(ctx, key, value, opts)

	// Round-trip through JSON so dest holds exactly what a later Get would.
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize factory value for key %q: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to deserialize factory value for key %q: %w", key, err)
	}
	return nil
}

// Delete removes a key and scrubs it from every tag index it was added under.
// The empty-key check guards a programmer error and is the only way this
// returns a non-nil error; backend failures are swallowed.
func (s *CacheService) Delete(ctx context.Context, key string) error {
	if key == "" {
		return domain.ErrEmptyCacheKey
	}
	if !s.connected.Load() {
		return nil
	}

	removed, err := s.client.Del(ctx, key).Result()
	if err != nil {
		s.logger.Warn(ctx, "cache delete failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return nil
	}
	s.pruneTagIndexes(ctx, key)
	s.keys.Add(-removed)
	return nil
}

// InvalidateByPattern deletes every key matching the glob and returns how
// many were removed. An unreachable backend yields 0, not an error.
func (s *CacheService) InvalidateByPattern(ctx context.Context, pattern string) int64 {
	if !s.connected.Load() || pattern == "" {
		return 0
	}

	var removed int64
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			s.logger.Warn(ctx, "cache pattern scan failed", map[string]interface{}{
				"pattern": pattern,
				"error":   err.Error(),
			})
			break
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err == nil {
				removed += n
			}
			s.pruneTagIndexes(ctx, keys...)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.keys.Add(-removed)
	return removed
}

// InvalidateByTags deletes every key indexed under any of the tags, then the
// tag indexes themselves so an index never outlives its members.
func (s *CacheService) InvalidateByTags(ctx context.Context, tags []string) int64 {
	if !s.connected.Load() || len(tags) == 0 {
		return 0
	}

	var removed int64
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		tagKey := tagKeyPrefix + tag

		members, err := s.client.SMembers(ctx, tagKey).Result()
		if err != nil {
			s.logger.Warn(ctx, "failed to read tag index", map[string]interface{}{
				"tag":   tag,
				"error": err.Error(),
			})
			continue
		}
		if len(members) > 0 {
			n, err := s.client.Del(ctx, members...).Result()
			if err == nil {
				removed += n
			}
			s.pruneTagIndexes(ctx, members...)
		}
		if err := s.client.Del(ctx, tagKey).Err(); err != nil {
			s.logger.Warn(ctx, "failed to remove tag index", map[string]interface{}{
				"tag":   tag,
				"error": err.Error(),
			})
		}
	}

	s.keys.Add(-removed)
	return removed
}

// MGet fetches a batch of keys in one round trip. Absent or unreadable keys
// are simply missing from the result map.
func (s *CacheService) MGet(ctx context.Context, keys []string) map[string]json.RawMessage {
	result := make(map[string]json.RawMessage)
	if !s.connected.Load() || len(keys) == 0 {
		for range keys {
			s.miss()
		}
		return result
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		for range keys {
			s.miss()
		}
		return result
	}

	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			s.miss()
			continue
		}
		result[keys[i]] = json.RawMessage(str)
		s.hit()
	}
	return result
}

// MSet writes a batch of entries, filtering out malformed ones rather than
// failing the whole batch. Returns the number of entries written.
func (s *CacheService) MSet(ctx context.Context, entries []CacheEntry) int {
	if !s.connected.Load() {
		return 0
	}

	written := 0
	for _, entry := range entries {
		if entry.Key == "" {
			continue
		}
		if s.Set(ctx, entry.Key, entry.Value, entry.Options) {
			written++
		}
	}
	return written
}

// GenerateKey joins the defined parts onto prefix, silently dropping empty
// parts. An empty prefix is a programmer error.
func GenerateKey(prefix string, parts ...string) (string, error) {
	if prefix == "" {
		return "", domain.ErrEmptyCacheKey
	}
	defined := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			defined = append(defined, p)
		}
	}
	return prefix + strings.Join(defined, ":"), nil
}

func (s *CacheService) Stats() domain.CacheStats {
	return domain.CacheStats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Keys:      s.keys.Load(),
		Memory:    s.memory.Load(),
		LastReset: time.Unix(0, s.lastReset.Load()),
	}
}

// HitRate returns the hit percentage since the last reset, 0 when no gets
// have happened yet.
func (s *CacheService) HitRate() float64 {
	hits := s.hits.Load()
	total := hits + s.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

func (s *CacheService) ResetStats() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.lastReset.Store(time.Now().UnixNano())
}

// UpdateStats reconciles the optimistic key counter and memory figure against
// the backend. Any failure leaves the prior stats untouched.
func (s *CacheService) UpdateStats(ctx context.Context) {
	if !s.connected.Load() {
		return
	}

	if size, err := s.client.DBSize(ctx).Result(); err == nil {
		s.keys.Store(size)
	}

	info, err := s.client.Info(ctx, "memory").Result()
	if err != nil {
		return
	}
	for _, line := range strings.Split(info, "\n") {
		if strings.HasPrefix(line, "used_memory:") {
			raw := strings.TrimSpace(strings.TrimPrefix(line, "used_memory:"))
			if mem, err := strconv.ParseInt(raw, 10, 64); err == nil {
				s.memory.Store(mem)
			}
			break
		}
	}
}

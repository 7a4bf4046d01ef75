package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

type InspectionRepository interface {
	Save(ctx context.Context, rec *domain.InspectionRecord) error
	Get(ctx context.Context, id string) (*domain.InspectionRecord, error)
	FindByArtifact(ctx context.Context, name string) (*domain.InspectionRecord, error)
	List(ctx context.Context, limit int) ([]*domain.InspectionRecord, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*domain.InspectionRecord, error)
	Delete(ctx context.Context, id string) error
}

type inspectionRedisRepo struct {
	rdb    *redis.Client
	tz     *time.Location
	prefix string
}

const DefaultKeyPrefix = "gdtrelay"

type RepositoryOption func(*inspectionRedisRepo)

// WithKeyPrefix namespaces every key so several relays can share one Redis.
func WithKeyPrefix(prefix string) RepositoryOption {
	return func(r *inspectionRedisRepo) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func NewInspectionRepository(rdb *redis.Client, tz *time.Location, opts ...RepositoryOption) InspectionRepository {
	if tz == nil {
		tz = time.UTC
	}
	r := &inspectionRedisRepo{rdb: rdb, tz: tz, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *inspectionRedisRepo) keyInspectionsHash() string { return r.prefix + ":inspections" }
func (r *inspectionRedisRepo) keyCreatedIndex() string    { return r.prefix + ":inspections:created" }
func (r *inspectionRedisRepo) keyTTLIndex() string        { return r.prefix + ":inspections:ttl" }
func (r *inspectionRedisRepo) keyArtifactsHash() string   { return r.prefix + ":artifacts" }

func (r *inspectionRedisRepo) Save(ctx context.Context, rec *domain.InspectionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal inspection: %w", err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.keyInspectionsHash(), rec.ID, string(b))
		pipe.ZAdd(ctx, r.keyCreatedIndex(), &redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: rec.ID})
		pipe.ZAdd(ctx, r.keyTTLIndex(), &redis.Z{Score: float64(rec.ExpiresAt.Unix()), Member: rec.ID})
		if rec.ArtifactName != "" {
			pipe.HSet(ctx, r.keyArtifactsHash(), rec.ArtifactName, rec.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save inspection: %w", err)
	}
	return nil
}

func (r *inspectionRedisRepo) Get(ctx context.Context, id string) (*domain.InspectionRecord, error) {
	js, err := r.rdb.HGet(ctx, r.keyInspectionsHash(), id).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET inspection: %w", err)
	}
	return r.decode(js)
}

func (r *inspectionRedisRepo) FindByArtifact(ctx context.Context, name string) (*domain.InspectionRecord, error) {
	id, err := r.rdb.HGet(ctx, r.keyArtifactsHash(), name).Result()
	if err == redis.Nil || (err == nil && id == "") {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET artifact: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *inspectionRedisRepo) List(ctx context.Context, limit int) ([]*domain.InspectionRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.rdb.ZRevRange(ctx, r.keyCreatedIndex(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZREVRANGE created: %w", err)
	}
	return r.load(ctx, ids)
}

func (r *inspectionRedisRepo) ListExpired(ctx context.Context, before time.Time, limit int) ([]*domain.InspectionRecord, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.Unix(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ids, err := r.rdb.ZRangeByScore(ctx, r.keyTTLIndex(), opt).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZRANGEBYSCORE ttl: %w", err)
	}
	recs, dangling, err := r.loadWithMissing(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(dangling) > 0 {
		// Index entries whose record is gone would otherwise fill every page.
		members := make([]interface{}, len(dangling))
		for i, id := range dangling {
			members[i] = id
		}
		_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, r.keyTTLIndex(), members...)
			pipe.ZRem(ctx, r.keyCreatedIndex(), members...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("redis prune dangling ttl entries: %w", err)
		}
	}
	return recs, nil
}

func (r *inspectionRedisRepo) Delete(ctx context.Context, id string) error {
	rec, err := r.Get(ctx, id)
	if err == persistence.ErrNotFound {
		rec = nil
	} else if err != nil {
		return err
	}
	var owner string
	if rec != nil && rec.ArtifactName != "" {
		owner, err = r.rdb.HGet(ctx, r.keyArtifactsHash(), rec.ArtifactName).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("redis HGET artifact: %w", err)
		}
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.keyInspectionsHash(), id)
		pipe.ZRem(ctx, r.keyCreatedIndex(), id)
		pipe.ZRem(ctx, r.keyTTLIndex(), id)
		if owner == id {
			pipe.HDel(ctx, r.keyArtifactsHash(), rec.ArtifactName)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete inspection: %w", err)
	}
	return nil
}

func (r *inspectionRedisRepo) load(ctx context.Context, ids []string) ([]*domain.InspectionRecord, error) {
	// Dangling ids are skipped here and pruned by ListExpired once they expire.
	recs, _, err := r.loadWithMissing(ctx, ids)
	return recs, err
}

// loadWithMissing returns the records for ids in order, plus the ids that
// have no record.
func (r *inspectionRedisRepo) loadWithMissing(ctx context.Context, ids []string) ([]*domain.InspectionRecord, []string, error) {
	if len(ids) == 0 {
		return []*domain.InspectionRecord{}, nil, nil
	}
	vals, err := r.rdb.HMGet(ctx, r.keyInspectionsHash(), ids...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis HMGET inspections: %w", err)
	}
	out := make([]*domain.InspectionRecord, 0, len(vals))
	var missing []string
	for i, v := range vals {
		js, ok := v.(string)
		if !ok || js == "" {
			missing = append(missing, ids[i])
			continue
		}
		rec, err := r.decode(js)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, rec)
	}
	return out, missing, nil
}

func (r *inspectionRedisRepo) decode(js string) (*domain.InspectionRecord, error) {
	var rec domain.InspectionRecord
	if err := json.Unmarshal([]byte(js), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal inspection: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.In(r.tz)
	rec.ExpiresAt = rec.ExpiresAt.In(r.tz)
	return &rec, nil
}

package cellstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazardgrid/h3-risk-service/internal/cache/keys"
	"github.com/hazardgrid/h3-risk-service/internal/cache/redisstore"
	"github.com/hazardgrid/h3-risk-service/internal/core/model"
	"github.com/hazardgrid/h3-risk-service/internal/core/observability"
)

// RedisV2 shares full-distribution records across replicas. Records carry no
// TTL; freshness is enforced by the timestamp embedded in the key and
// dataset invalidation events drop superseded cells.
type RedisV2 struct {
	rc *redisstore.Client
}

func NewRedisV2(rc *redisstore.Client) *RedisV2 { return &RedisV2{rc: rc} }

func (s *RedisV2) GetMulti(ctx context.Context, cells model.Cells, timestamp string) (map[string]*model.RecordV2, model.Cells, error) {
	ks := make([]string, len(cells))
	for i, cell := range cells {
		ks[i] = keys.CellV2(cell, timestamp)
	}
	raw, err := s.rc.MGet(ctx, ks)
	if err != nil {
		return nil, nil, fmt.Errorf("cell mget: %w", err)
	}

	found := make(map[string]*model.RecordV2, len(raw))
	var missing model.Cells
	for i, cell := range cells {
		b, ok := raw[ks[i]]
		if !ok {
			missing = append(missing, cell)
			continue
		}
		var rec model.RecordV2
		if err := json.Unmarshal(b, &rec); err != nil {
			// Undecodable entries are treated as misses and recomputed.
			missing = append(missing, cell)
			continue
		}
		found[cell] = &rec
	}

	observability.AddCacheHits("redis", len(found))
	observability.AddCacheMisses("redis", len(missing))
	return found, missing, nil
}

func (s *RedisV2) PutMulti(ctx context.Context, records []*model.RecordV2) error {
	if len(records) == 0 {
		return nil
	}
	kv := make(map[string][]byte, len(records))
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode cell %s: %w", rec.H3Index, err)
		}
		kv[keys.CellV2(rec.H3Index, rec.Timestamp)] = b
	}
	if err := s.rc.MSetWithTTL(ctx, kv, 0); err != nil {
		return fmt.Errorf("cell mset: %w", err)
	}
	return nil
}

func (s *RedisV2) Drop(ctx context.Context, cells model.Cells) (int, error) {
	dropped := 0
	for _, cell := range cells {
		n, err := s.rc.DelPattern(ctx, "cell:v2:"+cell+":*")
		if err != nil {
			return dropped, fmt.Errorf("drop cell %s: %w", cell, err)
		}
		dropped += n
	}
	return dropped, nil
}

func (s *RedisV2) Close() error { return s.rc.Close() }

// RedisV1 holds the legacy flat records.
type RedisV1 struct {
	rc *redisstore.Client
}

func NewRedisV1(rc *redisstore.Client) *RedisV1 { return &RedisV1{rc: rc} }

func (s *RedisV1) GetMulti(ctx context.Context, cells model.Cells) (map[string]*model.RecordV1, model.Cells, error) {
	ks := make([]string, len(cells))
	for i, cell := range cells {
		ks[i] = keys.CellV1(cell)
	}
	raw, err := s.rc.MGet(ctx, ks)
	if err != nil {
		return nil, nil, fmt.Errorf("cell mget: %w", err)
	}

	found := make(map[string]*model.RecordV1, len(raw))
	var missing model.Cells
	for i, cell := range cells {
		b, ok := raw[ks[i]]
		if !ok {
			missing = append(missing, cell)
			continue
		}
		var rec model.RecordV1
		if err := json.Unmarshal(b, &rec); err != nil {
			missing = append(missing, cell)
			continue
		}
		found[cell] = &rec
	}

	observability.AddCacheHits("redis", len(found))
	observability.AddCacheMisses("redis", len(missing))
	return found, missing, nil
}

func (s *RedisV1) PutMulti(ctx context.Context, records []*model.RecordV1) error {
	if len(records) == 0 {
		return nil
	}
	kv := make(map[string][]byte, len(records))
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode cell %s: %w", rec.H3Index, err)
		}
		kv[keys.CellV1(rec.H3Index)] = b
	}
	if err := s.rc.MSetWithTTL(ctx, kv, 0); err != nil {
		return fmt.Errorf("cell mset: %w", err)
	}
	return nil
}

func (s *RedisV1) Drop(ctx context.Context, cells model.Cells) (int, error) {
	ks := make([]string, len(cells))
	for i, cell := range cells {
		ks[i] = keys.CellV1(cell)
	}
	if err := s.rc.Del(ctx, ks...); err != nil {
		return 0, fmt.Errorf("drop cells: %w", err)
	}
	return len(ks), nil
}

func (s *RedisV1) Close() error { return s.rc.Close() }

// Package redis stores the secondary index in Redis: one JSON document per
// record plus a set of ids per record type.
package redis

import (
	"archivecore/pkg/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Options holds connection settings.
type Options struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Prefix namespaces every key written by the index.
	Prefix string `yaml:"prefix"`
}

// DefaultOptions returns localhost defaults.
func DefaultOptions() Options {
	return Options{Address: "localhost:6379", Prefix: "archivecore:"}
}

// Index implements domain.Index on Redis.
type Index struct {
	client redis.Cmdable
	closer func() error
	prefix string
}

var _ domain.Index = (*Index)(nil)

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Index, error) {
	client := redis.NewClient(&redis.Options{Addr: opts.Address, Password: opts.Password, DB: opts.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	idx := New(client, opts.Prefix)
	idx.closer = client.Close
	return idx, nil
}

// New wraps an existing client.
func New(client redis.Cmdable, prefix string) *Index {
	return &Index{client: client, prefix: prefix}
}

// Close releases the connection when the index owns it.
func (i *Index) Close() error {
	if i.closer == nil {
		return nil
	}
	return i.closer()
}

// DocKey is the key holding rec's indexed document.
func (i *Index) DocKey(id domain.ID) string { return i.prefix + "doc:" + string(id) }

// TypeKey is the set holding ids of type t.
func (i *Index) TypeKey(t domain.RecordType) string { return i.prefix + "type:" + string(t) }

// Upsert implements domain.Index.
func (i *Index) Upsert(ctx context.Context, rec domain.Record) error {
	return i.UpsertBatch(ctx, []domain.Record{rec})
}

// UpsertBatch writes every record in one MULTI/EXEC pipeline.
func (i *Index) UpsertBatch(ctx context.Context, recs []domain.Record) error {
	if len(recs) == 0 {
		return nil
	}
	payloads := make([][]byte, len(recs))
	for n, rec := range recs {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode %s: %w", rec.ID, err)
		}
		payloads[n] = b
	}
	_, err := i.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for n, rec := range recs {
			p.Set(ctx, i.DocKey(rec.ID), payloads[n], 0)
			p.SAdd(ctx, i.TypeKey(rec.Type), string(rec.ID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert batch failed: %w", err)
	}
	return nil
}

// Delete implements domain.Index.
func (i *Index) Delete(ctx context.Context, rec domain.Record) error {
	_, err := i.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, i.DocKey(rec.ID))
		p.SRem(ctx, i.TypeKey(rec.Type), string(rec.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed for %s: %w", rec.ID, err)
	}
	return nil
}

// Get reads the indexed document for id. Missing documents report false.
func (i *Index) Get(ctx context.Context, id domain.ID) (domain.Record, bool, error) {
	b, err := i.client.Get(ctx, i.DocKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("redis get failed for %s: %w", id, err)
	}
	var rec domain.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return domain.Record{}, false, fmt.Errorf("decode %s: %w", id, err)
	}
	return rec, true, nil
}

// Count returns the number of indexed records of type t.
func (i *Index) Count(ctx context.Context, t domain.RecordType) (int64, error) {
	n, err := i.client.SCard(ctx, i.TypeKey(t)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count failed for %s: %w", t, err)
	}
	return n, nil
}

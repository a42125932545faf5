// Package lake stores incidents as immutable parquet batches in an object
// store and reads them back through DuckDB.
package lake

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nocassist/nocassist/internal/guard"
	"github.com/nocassist/nocassist/internal/incident"
	"github.com/nocassist/nocassist/internal/query"
	"github.com/nocassist/nocassist/internal/query/duckdb"
	"github.com/nocassist/nocassist/internal/schema"
	"github.com/nocassist/nocassist/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

type Store struct {
	objects  storage.ObjectStore
	registry *schema.Registry
	engine   *duckdb.Engine
	now      func() time.Time
	newID    func() string
}

func NewStore(objects storage.ObjectStore, registry *schema.Registry) *Store {
	return &Store{
		objects:  objects,
		registry: registry,
		engine:   duckdb.NewEngine(objects, registry),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (s *Store) Engine() query.Engine {
	return s.engine
}

func (s *Store) Dialect() guard.Dialect {
	return guard.DialectDuckDB
}

func (s *Store) Ping(ctx context.Context) error {
	prefix, err := storage.TablePrefix(s.registry.Table())
	if err != nil {
		return err
	}
	_, err = s.objects.List(ctx, prefix)
	return err
}

func (s *Store) Close() error {
	return nil
}

// Append writes the batch as a single new object; existing objects are
// never rewritten.
func (s *Store) Append(ctx context.Context, batch incident.Batch) (incident.AppendResult, error) {
	if err := batch.Validate(s.registry); err != nil {
		return incident.AppendResult{}, err
	}
	data, err := EncodeBatch(s.registry, batch)
	if err != nil {
		return incident.AppendResult{}, err
	}
	key, err := storage.BuildBatchPath(s.registry.Table(), s.now(), s.newID())
	if err != nil {
		return incident.AppendResult{}, err
	}
	if _, err := s.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: parquetContentType}); err != nil {
		return incident.AppendResult{}, fmt.Errorf("put batch %q: %w", key, err)
	}
	return incident.AppendResult{Records: len(batch.Rows), Tenants: batch.Tenants(s.registry)}, nil
}

// TableFiles lists every parquet batch of the incident table.
func (s *Store) TableFiles(ctx context.Context) ([]query.TableFile, error) {
	prefix, err := storage.TablePrefix(s.registry.Table())
	if err != nil {
		return nil, err
	}
	objects, err := s.objects.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	files := make([]query.TableFile, 0, len(objects))
	for _, object := range objects {
		if !storage.IsBatchKey(s.registry.Table(), object.Key) {
			continue
		}
		files = append(files, query.TableFile{
			TableName:     s.registry.Table(),
			ObjectPath:    object.Key,
			FileSizeBytes: object.Size,
		})
	}
	return files, nil
}

func (s *Store) Stats(ctx context.Context) (incident.Stats, error) {
	files, err := s.TableFiles(ctx)
	if err != nil {
		return incident.Stats{}, err
	}
	result, err := s.engine.Execute(ctx, query.Request{SQL: incident.StatsQuery(s.registry), Files: files})
	if err != nil {
		return incident.Stats{}, fmt.Errorf("query incident stats: %w", err)
	}
	return incident.StatsFromResult(result)
}

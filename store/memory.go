package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/always-cache/record-resolver/record"
)

type memEntry struct {
	fields []byte
	etag   string
}

// MemStore keeps records in memory.
// Rows are stored encoded, so callers never share field maps with the store.
type MemStore struct {
	mutex   *sync.RWMutex
	schemas Schemas
	db      map[string]memEntry
}

func NewMemStore(schemas Schemas) MemStore {
	return MemStore{
		mutex:   &sync.RWMutex{},
		schemas: schemas,
		db:      make(map[string]memEntry),
	}
}

func (m MemStore) Find(ctx context.Context, collection, id string) (record.Record, error) {
	schema, err := m.schemas.get(collection)
	if err != nil {
		return nil, err
	}
	m.mutex.RLock()
	entry, ok := m.db[key(collection, id)]
	m.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return schema.load(collection, id, entry.fields, entry.etag)
}

func (m MemStore) Put(ctx context.Context, collection string, row Row) (Row, error) {
	schema, err := m.schemas.get(collection)
	if err != nil {
		return row, err
	}
	row, fields, err := schema.prepare(collection, row)
	if err != nil {
		return row, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key(collection, row.ID)] = memEntry{fields: fields, etag: row.Etag}
	return row, nil
}

func (m MemStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := m.schemas.get(collection); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	k := key(collection, id)
	if _, ok := m.db[k]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	delete(m.db, k)
	return nil
}

func (m MemStore) Update(ctx context.Context, collection, id string, fn UpdateFunc) (record.Record, error) {
	schema, err := m.schemas.get(collection)
	if err != nil {
		return nil, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	k := key(collection, id)
	entry, ok := m.db[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	current, err := schema.load(collection, id, entry.fields, entry.etag)
	if err != nil {
		return nil, err
	}
	row, err := fn(current)
	if err != nil {
		return nil, err
	}
	row.ID = id
	row, fields, err := schema.prepare(collection, row)
	if err != nil {
		return nil, err
	}
	m.db[k] = memEntry{fields: fields, etag: row.Etag}
	return schema.load(collection, id, fields, row.Etag)
}

func (m MemStore) DeleteIf(ctx context.Context, collection, id string, check func(current record.Record) error) error {
	schema, err := m.schemas.get(collection)
	if err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	k := key(collection, id)
	entry, ok := m.db[k]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	current, err := schema.load(collection, id, entry.fields, entry.etag)
	if err != nil {
		return err
	}
	if err := check(current); err != nil {
		return err
	}
	delete(m.db, k)
	return nil
}

package store

import (
	"context"
	"fmt"

	"github.com/always-cache/record-resolver/record"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a collection or record does not exist.
var ErrNotFound = fmt.Errorf("Record not found")

// Store is an interface for a record store.
// Records are grouped into collections, each of which has a Schema.
//
// Implementations must be thread-safe!
type Store interface {
	// Find returns the record with the given id.
	// The returned record carries the entity tag capabilities of its collection.
	// It returns an error wrapping ErrNotFound if there is no such record.
	Find(ctx context.Context, collection, id string) (record.Record, error)
	// Put creates or replaces a record and returns the stored row.
	// A new id is generated if the row has none.
	Put(ctx context.Context, collection string, row Row) (Row, error)
	// Delete removes a record.
	// It returns an error wrapping ErrNotFound if there is no such record.
	Delete(ctx context.Context, collection, id string) error
	// Update replaces an existing record with the row returned by fn.
	// fn sees the current version and aborts the update by returning an error,
	// which Update returns unchanged. No other write to the record happens
	// between the read and the write. The stored version is returned.
	Update(ctx context.Context, collection, id string, fn UpdateFunc) (record.Record, error)
	// DeleteIf removes an existing record if check accepts its current version,
	// with the same guarantees as Update.
	DeleteIf(ctx context.Context, collection, id string, check func(current record.Record) error) error
}

// UpdateFunc returns the replacement for the current version of a record.
// The id of the returned row is ignored.
type UpdateFunc func(current record.Record) (Row, error)

// EtagMode says how entity tags are provided for a collection.
type EtagMode string

const (
	// EtagNone disables entity tags.
	EtagNone EtagMode = "none"
	// EtagStored computes tags on write and stores them with the record.
	EtagStored EtagMode = "stored"
	// EtagGenerated computes tags from the record contents on every read.
	EtagGenerated EtagMode = "generated"
)

// Schema describes the records of a collection.
type Schema struct {
	// Name of the field holding the modification time, if any.
	UpdatedAtField string
	Etag           EtagMode
}

// Schemas maps collection names to their schema.
type Schemas map[string]Schema

func (s Schemas) get(collection string) (Schema, error) {
	schema, ok := s[collection]
	if !ok {
		return Schema{}, fmt.Errorf("%w: unknown collection %q", ErrNotFound, collection)
	}
	return schema, nil
}

// prepare assigns an id and the stored tag before a row is written.
func (s Schema) prepare(collection string, row Row) (Row, []byte, error) {
	row.Collection = collection
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Fields == nil {
		row.Fields = map[string]any{}
	}
	b, err := encodeFields(row.Fields)
	if err != nil {
		return row, nil, err
	}
	row.Etag = ""
	if s.Etag == EtagStored {
		row.Etag = contentTag(b, false).Opaque
	}
	row.updatedAtField = s.UpdatedAtField
	return row, b, nil
}

// load builds the record type matching the collection's etag mode.
func (s Schema) load(collection, id string, fields []byte, tag string) (record.Record, error) {
	decoded, err := decodeFields(fields)
	if err != nil {
		return nil, err
	}
	row := Row{
		Collection:     collection,
		ID:             id,
		Fields:         decoded,
		Etag:           tag,
		updatedAtField: s.UpdatedAtField,
	}
	switch s.Etag {
	case EtagStored:
		return TaggedRow{row}, nil
	case EtagGenerated:
		return HashedRow{row}, nil
	}
	return row, nil
}

func key(collection, id string) string {
	return collection + "\x00" + id
}

package store

import (
	"bytes"
	"strconv"
	"time"

	"github.com/always-cache/record-resolver/pkg/etag"
	"github.com/always-cache/record-resolver/record"
	"github.com/vmihailenco/msgpack/v5"
)

// Row is a stored record without entity tags.
type Row struct {
	Collection string
	ID         string
	Fields     map[string]any
	// Etag is the opaque value of the stored tag, if the collection stores tags.
	Etag string

	updatedAtField string
}

func (r Row) UpdatedAtField() string {
	return r.updatedAtField
}

func (r Row) Field(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// TaggedRow is a row whose tags were computed when it was written.
type TaggedRow struct {
	Row
}

func (r TaggedRow) StrongEtag() etag.ETag {
	if r.Etag == "" {
		return etag.ETag{}
	}
	return etag.Strong(r.Etag)
}

func (r TaggedRow) WeakEtag() etag.ETag {
	return r.StrongEtag().AsWeak()
}

// HashedRow is a row whose tags are computed from its contents when asked for.
type HashedRow struct {
	Row
}

// GenerateStrongEtag returns the digest of the encoded fields.
func (r HashedRow) GenerateStrongEtag() (etag.ETag, error) {
	b, err := encodeFields(r.Fields)
	if err != nil {
		return etag.ETag{}, &etag.GenerationError{Err: err}
	}
	return contentTag(b, false), nil
}

// GenerateWeakEtag derives the tag from the record identity and modification time,
// so that it stays the same for semantically equivalent versions.
// Without a modification time it falls back to the content digest.
func (r HashedRow) GenerateWeakEtag() (etag.ETag, error) {
	if modified := record.LastModified(r); !modified.IsZero() {
		id := r.Collection + "\x00" + r.ID + "\x00" + strconv.FormatInt(modified.UnixNano(), 10)
		return contentTag([]byte(id), true), nil
	}
	b, err := encodeFields(r.Fields)
	if err != nil {
		return etag.ETag{}, &etag.GenerationError{Err: err}
	}
	return contentTag(b, true), nil
}

func contentTag(b []byte, weak bool) etag.ETag {
	return etag.FromBytes(b, weak)
}

// encodeFields encodes fields deterministically.
func encodeFields(fields map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(fields); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFields(b []byte) (map[string]any, error) {
	fields := map[string]any{}
	if len(b) == 0 {
		return fields, nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	for name, value := range fields {
		if t, ok := value.(time.Time); ok {
			fields[name] = t.UTC()
		}
	}
	return fields, nil
}

type rowHolder interface {
	row() Row
}

func (r Row) row() Row {
	return r
}

// RowOf returns the row behind a record found in a store.
func RowOf(rec record.Record) (Row, bool) {
	if h, ok := rec.(rowHolder); ok {
		return h.row(), true
	}
	return Row{}, false
}

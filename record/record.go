package record

import (
	"github.com/always-cache/record-resolver/pkg/etag"
)

// Record is a domain entity that can be resolved for a request.
type Record interface {
	// UpdatedAtField returns the name of the field holding the time of the
	// last modification, or an empty string if the record has no such field.
	UpdatedAtField() string
	// Field returns the value stored under the given field name.
	// The boolean is false if the record has no such field.
	Field(name string) (any, bool)
}

// HasEtag is implemented by records that carry precomputed entity tags.
type HasEtag interface {
	StrongEtag() etag.ETag
	WeakEtag() etag.ETag
}

// CanGenerateEtag is implemented by records that can compute entity tags on demand.
// Generation errors should be of type *etag.GenerationError.
type CanGenerateEtag interface {
	GenerateStrongEtag() (etag.ETag, error)
	GenerateWeakEtag() (etag.ETag, error)
}

type sourceKind int

const (
	sourceNone sourceKind = iota
	sourcePrecomputed
	sourceGenerated
)

// EtagSource says where the entity tags of a record come from.
// It is determined once per record by SourceOf.
type EtagSource struct {
	kind        sourceKind
	precomputed HasEtag
	generator   CanGenerateEtag
}

// NoEtag is the source of records without entity tags.
var NoEtag = EtagSource{}

// Precomputed returns a source serving the tags held by h.
func Precomputed(h HasEtag) EtagSource {
	return EtagSource{kind: sourcePrecomputed, precomputed: h}
}

// Generatable returns a source generating tags with g.
func Generatable(g CanGenerateEtag) EtagSource {
	return EtagSource{kind: sourceGenerated, generator: g}
}

// SourceOf classifies the record by its capabilities.
// Precomputed tags take priority over generated ones.
func SourceOf(rec Record) EtagSource {
	if h, ok := rec.(HasEtag); ok {
		return Precomputed(h)
	}
	if g, ok := rec.(CanGenerateEtag); ok {
		return Generatable(g)
	}
	return NoEtag
}

// IsNone reports whether the source never yields a tag.
func (s EtagSource) IsNone() bool {
	return s.kind == sourceNone
}

// Strong returns the strong tag, or the zero tag if the source has none.
func (s EtagSource) Strong() (etag.ETag, error) {
	switch s.kind {
	case sourcePrecomputed:
		return s.precomputed.StrongEtag(), nil
	case sourceGenerated:
		return s.generator.GenerateStrongEtag()
	}
	return etag.ETag{}, nil
}

// Weak returns the weak tag, or the zero tag if the source has none.
func (s EtagSource) Weak() (etag.ETag, error) {
	switch s.kind {
	case sourcePrecomputed:
		return s.precomputed.WeakEtag(), nil
	case sourceGenerated:
		return s.generator.GenerateWeakEtag()
	}
	return etag.ETag{}, nil
}

func (s EtagSource) String() string {
	switch s.kind {
	case sourcePrecomputed:
		return "precomputed"
	case sourceGenerated:
		return "generated"
	}
	return "none"
}

package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/always-cache/record-resolver/pkg/etag"
	"github.com/always-cache/record-resolver/record"

	"github.com/rs/zerolog"
)

type Options[R record.Record] struct {
	// Looks up the record for the current request.
	// Must fail with an error wrapping ErrNotFound if there is none.
	FindRecordOrFail func(ctx context.Context) (R, error)
	// Decides whether the caller may access the found record.
	AuthorizeFoundRecord func(ctx context.Context, rec R) (bool, error)
	// Optional function producing the error for a denied record.
	// An *AuthorizationError is used if nil, or if it returns nil.
	FailedAuthorization func(ctx context.Context, rec R) error
	// Optional hook called after the record was found and authorized.
	// Use it e.g. for additional validation of the record.
	OnRecordFound func(ctx context.Context, rec R) error
}

// SingleRecordResolver locates, authorizes and describes the single record
// targeted by a request. A resolver serves exactly one request.
type SingleRecordResolver[R record.Record] struct {
	opts     Options[R]
	record   R
	source   record.EtagSource
	resolved bool
}

// New returns a resolver using the given options.
// It panics if the lookup or authorization function is missing.
func New[R record.Record](opts Options[R]) *SingleRecordResolver[R] {
	if opts.FindRecordOrFail == nil || opts.AuthorizeFoundRecord == nil {
		panic("resolver: FindRecordOrFail and AuthorizeFoundRecord are required")
	}
	return &SingleRecordResolver[R]{opts: opts}
}

// ResolveAndPrepare looks up the record, authorizes it and runs the found hook, in that order.
// Errors from the lookup, the authorization and the hook are returned unchanged.
// If authorization is denied, the hook is not run.
func (s *SingleRecordResolver[R]) ResolveAndPrepare(ctx context.Context) error {
	if s.resolved {
		return ErrAlreadyResolved
	}
	log := zerolog.Ctx(ctx)

	rec, err := s.opts.FindRecordOrFail(ctx)
	if err != nil {
		log.Trace().Err(err).Msg("Record lookup failed")
		return err
	}
	s.record = rec
	s.source = record.SourceOf(rec)
	s.resolved = true
	log.Trace().Str("etag", s.source.String()).Msg("Found record")

	ok, err := s.opts.AuthorizeFoundRecord(ctx, rec)
	if err != nil {
		return err
	}
	if !ok {
		log.Debug().Msg("Access to record denied")
		return s.failedAuthorization(ctx, rec)
	}

	if s.opts.OnRecordFound != nil {
		return s.opts.OnRecordFound(ctx, rec)
	}
	return nil
}

func (s *SingleRecordResolver[R]) failedAuthorization(ctx context.Context, rec R) error {
	if s.opts.FailedAuthorization != nil {
		if err := s.opts.FailedAuthorization(ctx, rec); err != nil {
			return err
		}
	}
	return &AuthorizationError{}
}

// Resolved reports whether a record was found.
func (s *SingleRecordResolver[R]) Resolved() bool {
	return s.resolved
}

// Record returns the found record, or the zero value before resolution.
func (s *SingleRecordResolver[R]) Record() R {
	return s.record
}

// StrongEtag returns the strong entity tag of the record.
// Precomputed tags are preferred over generated ones; the zero tag is
// returned if the record has neither.
func (s *SingleRecordResolver[R]) StrongEtag() (etag.ETag, error) {
	if !s.resolved {
		return etag.ETag{}, ErrNotResolved
	}
	return s.source.Strong()
}

// WeakEtag returns the weak entity tag of the record, like StrongEtag.
func (s *SingleRecordResolver[R]) WeakEtag() (etag.ETag, error) {
	if !s.resolved {
		return etag.ETag{}, ErrNotResolved
	}
	return s.source.Weak()
}

// Etag is StrongEtag.
func (s *SingleRecordResolver[R]) Etag() (etag.ETag, error) {
	return s.StrongEtag()
}

// LastModified returns the update time of the record,
// or the zero time if it has none.
func (s *SingleRecordResolver[R]) LastModified() time.Time {
	if !s.resolved {
		return time.Time{}
	}
	return record.LastModified(s.record)
}

func (s *SingleRecordResolver[R]) String() string {
	return fmt.Sprintf("SingleRecordResolver{resolved: %t, etag: %s}", s.resolved, s.source)
}

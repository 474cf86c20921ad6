package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/always-cache/record-resolver/pkg/etag"
	"github.com/always-cache/record-resolver/record"
	"github.com/always-cache/record-resolver/rfc9110"
	"github.com/always-cache/record-resolver/store"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Server serves the records of the configured collections with
// conditional request support.
type Server struct {
	config Config
	store  store.Store
	log    zerolog.Logger
	router chi.Router
	now    func() time.Time
}

// NewServer creates the HTTP handler for the given config and store.
// The logger is used for request logging; a console logger is used if nil.
func NewServer(config Config, records store.Store, logger *zerolog.Logger) *Server {
	var log zerolog.Logger
	if logger == nil {
		log = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		log = *logger
	}

	s := &Server{
		config: config.WithDefaults(),
		store:  records,
		log:    log,
		now:    time.Now,
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(s.logRequest))
	r.Get("/{collection}/{id}", s.getRecord)
	r.Head("/{collection}/{id}", s.getRecord)
	r.Put("/{collection}/{id}", s.putRecord)
	r.Delete("/{collection}/{id}", s.deleteRecord)
	r.Post("/{collection}", s.createRecord)
	s.router = r

	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequest(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("principal", s.principal(r)).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("Sending response to client")
}

// document is the JSON representation of a record.
type document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// target returns the collection and record id addressed by the request.
func (s *Server) target(w http.ResponseWriter, r *http.Request) (CollectionConfig, string, bool) {
	col, ok := s.config.collection(chi.URLParam(r, "collection"))
	if !ok {
		s.sendStatus(w, http.StatusNotFound)
		return col, "", false
	}
	return col, chi.URLParam(r, "id"), true
}

func (s *Server) principal(r *http.Request) string {
	return r.Header.Get(s.config.PrincipalHeader)
}

type finder func(ctx context.Context) (record.Record, error)

// fromStore looks the record up in the store.
func (s *Server) fromStore(col CollectionConfig, id string) finder {
	return func(ctx context.Context) (record.Record, error) {
		return s.store.Find(ctx, col.Name, id)
	}
}

// given returns a record that was already read from the store.
func given(rec record.Record) finder {
	return func(ctx context.Context) (record.Record, error) {
		return rec, nil
	}
}

// newResolver creates the resolver for a single record of a collection.
func (s *Server) newResolver(r *http.Request, col CollectionConfig, id string, write bool, find finder) *SingleRecordResolver[record.Record] {
	principal := s.principal(r)
	return New(Options[record.Record]{
		FindRecordOrFail: find,
		AuthorizeFoundRecord: func(ctx context.Context, rec record.Record) (bool, error) {
			return authorize(col, principal, rec, write), nil
		},
		FailedAuthorization: func(ctx context.Context, rec record.Record) error {
			if principal == "" {
				return &AuthorizationError{Reason: "no principal"}
			}
			return &AuthorizationError{Reason: fmt.Sprintf("%s does not own %s/%s", principal, col.Name, id)}
		},
		OnRecordFound: func(ctx context.Context, rec record.Record) error {
			if isDeleted(col, rec) {
				return fmt.Errorf("%w: %s/%s is deleted", ErrNotFound, col.Name, id)
			}
			return nil
		},
	})
}

// authorize grants reads of public collections to everyone,
// and everything else to the owner of the record.
// Collections without an owner field accept writes from any principal.
func authorize(col CollectionConfig, principal string, rec record.Record, write bool) bool {
	if col.Public && !write {
		return true
	}
	if principal == "" {
		return false
	}
	if col.OwnerField == "" {
		return write
	}
	owner, ok := rec.Field(col.OwnerField)
	if !ok {
		return false
	}
	ownerStr, ok := owner.(string)
	return ok && ownerStr == principal
}

func isDeleted(col CollectionConfig, rec record.Record) bool {
	if col.DeletedAtField == "" {
		return false
	}
	value, ok := rec.Field(col.DeletedAtField)
	if !ok || value == nil {
		return false
	}
	if b, isBool := value.(bool); isBool {
		return b
	}
	if str, isStr := value.(string); isStr {
		return str != ""
	}
	return true
}

// validators returns the validators of the resolved record,
// using weak entity tags if the collection asks for them.
func validators(res *SingleRecordResolver[record.Record], col CollectionConfig) (rfc9110.Validators, error) {
	var tag etag.ETag
	var err error
	if col.Weak {
		tag, err = res.WeakEtag()
	} else {
		tag, err = res.StrongEtag()
	}
	if err != nil {
		return rfc9110.Validators{}, err
	}
	return rfc9110.Validators{
		ETag:         tag,
		LastModified: res.LastModified(),
	}, nil
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	col, id, ok := s.target(w, r)
	if !ok {
		return
	}
	res := s.newResolver(r, col, id, false, s.fromStore(col, id))
	if err := res.ResolveAndPrepare(r.Context()); err != nil {
		s.sendError(w, r, err)
		return
	}
	v, err := validators(res, col)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	rfc9110.SetValidatorHeaders(w.Header(), v)
	outcome := rfc9110.EvaluatePreconditions(r, v)
	hlog.FromRequest(r).Trace().Stringer("outcome", outcome).Msg("Evaluated preconditions")
	switch outcome {
	case rfc9110.NotModified:
		s.config.Rules.Apply(r, http.StatusNotModified, w.Header())
		w.WriteHeader(http.StatusNotModified)
		return
	case rfc9110.PreconditionFailed:
		s.sendStatus(w, http.StatusPreconditionFailed)
		return
	}
	s.config.Rules.Apply(r, http.StatusOK, w.Header())
	s.sendRecord(w, r, http.StatusOK, res.Record())
}

func (s *Server) putRecord(w http.ResponseWriter, r *http.Request) {
	col, id, ok := s.target(w, r)
	if !ok {
		return
	}
	fields, err := decodeFields(r)
	if err != nil {
		s.sendStatus(w, http.StatusBadRequest)
		return
	}
	rec, err := s.store.Update(r.Context(), col.Name, id, func(current record.Record) (store.Row, error) {
		if err := s.checkWritePreconditions(r, col, id, current); err != nil {
			return store.Row{}, err
		}
		return store.Row{Fields: s.stamp(r, col, fields)}, nil
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendSaved(w, r, col, given(rec), http.StatusOK)
}

func (s *Server) createRecord(w http.ResponseWriter, r *http.Request) {
	col, ok := s.config.collection(chi.URLParam(r, "collection"))
	if !ok {
		s.sendStatus(w, http.StatusNotFound)
		return
	}
	if s.principal(r) == "" {
		s.sendStatus(w, http.StatusUnauthorized)
		return
	}
	fields, err := decodeFields(r)
	if err != nil {
		s.sendStatus(w, http.StatusBadRequest)
		return
	}
	row, err := s.store.Put(r.Context(), col.Name, store.Row{Fields: s.stamp(r, col, fields)})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	w.Header().Set("Location", "/"+col.Name+"/"+row.ID)
	s.sendSaved(w, r, col, s.fromStore(col, row.ID), http.StatusCreated)
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	col, id, ok := s.target(w, r)
	if !ok {
		return
	}
	err := s.store.DeleteIf(r.Context(), col.Name, id, func(current record.Record) error {
		return s.checkWritePreconditions(r, col, id, current)
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// preconditionError is returned when a write is refused by its preconditions.
type preconditionError struct {
	outcome    rfc9110.Outcome
	validators rfc9110.Validators
}

func (e *preconditionError) Error() string {
	return "Write precondition evaluated to " + e.outcome.String()
}

// checkWritePreconditions authorizes a write to the current version of a record
// and evaluates If-Match and If-Unmodified-Since against it.
// It runs inside the store update, so the version cannot change before the write.
func (s *Server) checkWritePreconditions(r *http.Request, col CollectionConfig, id string, current record.Record) error {
	res := s.newResolver(r, col, id, true, given(current))
	if err := res.ResolveAndPrepare(r.Context()); err != nil {
		return err
	}
	v, err := validators(res, col)
	if err != nil {
		return err
	}
	if outcome := rfc9110.EvaluatePreconditions(r, v); outcome != rfc9110.Proceed {
		hlog.FromRequest(r).Debug().Stringer("outcome", outcome).Msg("Write precondition failed")
		return &preconditionError{outcome: outcome, validators: v}
	}
	return nil
}

// stamp sets the fields maintained by the server.
func (s *Server) stamp(r *http.Request, col CollectionConfig, fields map[string]any) map[string]any {
	if col.OwnerField != "" {
		fields[col.OwnerField] = s.principal(r)
	}
	if col.UpdatedAtField != "" {
		fields[col.UpdatedAtField] = s.now().UTC()
	}
	return fields
}

// sendSaved responds with a stored record; access was checked already.
func (s *Server) sendSaved(w http.ResponseWriter, r *http.Request, col CollectionConfig, find finder, status int) {
	res := New(Options[record.Record]{
		FindRecordOrFail: find,
		AuthorizeFoundRecord: func(ctx context.Context, rec record.Record) (bool, error) {
			return true, nil
		},
	})
	if err := res.ResolveAndPrepare(r.Context()); err != nil {
		s.sendError(w, r, err)
		return
	}
	v, err := validators(res, col)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	rfc9110.SetValidatorHeaders(w.Header(), v)
	s.config.Rules.Apply(r, status, w.Header())
	s.sendRecord(w, r, status, res.Record())
}

func decodeFields(r *http.Request) (map[string]any, error) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("Body is not an object")
	}
	return fields, nil
}

func (s *Server) sendRecord(w http.ResponseWriter, r *http.Request, status int, rec record.Record) {
	row, ok := store.RowOf(rec)
	if !ok {
		s.sendError(w, r, fmt.Errorf("Record of type %T cannot be rendered", rec))
		return
	}
	body, err := json.Marshal(document{ID: row.ID, Fields: row.Fields})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write response body to client")
	}
}

// sendError translates resolution errors to responses.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	log := hlog.FromRequest(r)
	var genErr *etag.GenerationError
	var preErr *preconditionError
	switch {
	case errors.As(err, &preErr):
		rfc9110.SetValidatorHeaders(w.Header(), preErr.validators)
		s.sendStatus(w, preErr.outcome.StatusCode())
	case errors.Is(err, ErrNotFound):
		log.Debug().Err(err).Msg("Record not found")
		s.sendStatus(w, http.StatusNotFound)
	case IsAuthorizationError(err):
		log.Debug().Err(err).Msg("Record access denied")
		if s.principal(r) == "" {
			s.sendStatus(w, http.StatusUnauthorized)
		} else {
			s.sendStatus(w, http.StatusForbidden)
		}
	case errors.As(err, &genErr):
		log.Error().Err(err).Msg("Could not generate entity tag")
		s.sendStatus(w, http.StatusInternalServerError)
	default:
		log.Error().Err(err).Msg("Could not serve record")
		s.sendStatus(w, http.StatusInternalServerError)
	}
}

func (s *Server) sendStatus(w http.ResponseWriter, status int) {
	http.Error(w, http.StatusText(status), status)
}

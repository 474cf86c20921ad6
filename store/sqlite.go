package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/always-cache/record-resolver/record"
	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

type SQLiteStore struct {
	db         *sql.DB
	schemas    Schemas
	writeMutex *sync.Mutex
}

// NewSQLiteStore opens a store with the given file name as the db.
// If the file name is empty, a new in-memory db is opened.
// Every in-memory db is private to its store and lives until Close.
func NewSQLiteStore(filename string, schemas Schemas) (*SQLiteStore, error) {
	if filename == "" {
		filename = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			fields BLOB,
			etag TEXT,
			PRIMARY KEY (collection, id)
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("Could not initialize db: %w", err)
		}
	}
	return &SQLiteStore{
		db:         db,
		schemas:    schemas,
		writeMutex: &sync.Mutex{},
	}, nil
}

// rowQuerier is implemented by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) Find(ctx context.Context, collection, id string) (record.Record, error) {
	schema, err := s.schemas.get(collection)
	if err != nil {
		return nil, err
	}
	return find(ctx, s.db, schema, collection, id)
}

func find(ctx context.Context, q rowQuerier, schema Schema, collection, id string) (record.Record, error) {
	var fields []byte
	var tag sql.NullString
	err := q.QueryRowContext(ctx,
		"SELECT fields, etag FROM records WHERE collection = ? AND id = ?", collection, id,
	).Scan(&fields, &tag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, err
	}
	return schema.load(collection, id, fields, tag.String)
}

func (s *SQLiteStore) Put(ctx context.Context, collection string, row Row) (Row, error) {
	schema, err := s.schemas.get(collection)
	if err != nil {
		return row, err
	}
	row, fields, err := schema.prepare(collection, row)
	if err != nil {
		return row, err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO records (collection, id, fields, etag) VALUES (?, ?, ?, ?)",
		collection, row.ID, fields, row.Etag)
	return row, err
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.schemas.get(collection); err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ? AND id = ?", collection, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, collection, id string, fn UpdateFunc) (record.Record, error) {
	schema, err := s.schemas.get(collection)
	if err != nil {
		return nil, err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := find(ctx, tx, schema, collection, id)
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
	if _, err := tx.ExecContext(ctx,
		"UPDATE records SET fields = ?, etag = ? WHERE collection = ? AND id = ?",
		fields, row.Etag, collection, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return schema.load(collection, id, fields, row.Etag)
}

func (s *SQLiteStore) DeleteIf(ctx context.Context, collection, id string, check func(current record.Record) error) error {
	schema, err := s.schemas.get(collection)
	if err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := find(ctx, tx, schema, collection, id)
	if err != nil {
		return err
	}
	if err := check(current); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ? AND id = ?", collection, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the underlying db.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

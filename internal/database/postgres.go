package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrEmptyContent    = errors.New("content must not be empty")
	ErrInvalidParent   = errors.New("reply target does not exist in this room")
	ErrReplyTooDeep    = errors.New("reply chain is too deep")
	ErrInvalidReaction = errors.New("unknown reaction type")
	ErrMessageDeleted  = errors.New("message is deleted")
	ErrRoomInactive    = errors.New("room is not active")
	ErrInvalidRoomName = errors.New("room name must not be empty")
)

// MaxReplyDepth caps reply chains; a top-level message has depth 0.
const MaxReplyDepth = 3

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Postgres error codes used for classification.
const (
	codeForeignKeyViolation = "23503"
	codeInvalidText         = "22P02"
)

func InitDB(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Store owns rooms, messages, reactions and the persisted read positions.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// notFound converts sql.ErrNoRows, malformed uuid input and dangling
// references into ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeInvalidText, codeForeignKeyViolation:
			return ErrNotFound
		}
	}
	return err
}

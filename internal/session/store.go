package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guzmanclinic/anabot/internal/events"
)

// ErrVersionConflict signals a concurrent writer touched the session row
// between load and save. Callers retry the whole turn a bounded number of
// times.
var ErrVersionConflict = errors.New("session: version conflict")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Record pairs a state blob with its row version for optimistic saves.
type Record struct {
	Channel   events.Channel
	UserKey   string
	State     State
	Version   int
	UpdatedAt time.Time
}

// Store persists one session row per (channel, user_key) pair.
type Store struct {
	db querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("session: pgx pool required")
	}
	return &Store{db: pool}
}

// NewStoreWithQuerier allows injecting mocks for tests.
func NewStoreWithQuerier(q querier) *Store {
	if q == nil {
		panic("session: querier required")
	}
	return &Store{db: q}
}

// Load fetches the session for the key, creating an initial one on first
// contact.
func (s *Store) Load(ctx context.Context, ch events.Channel, userKey string, now time.Time) (*Record, error) {
	rec := &Record{Channel: ch, UserKey: userKey}
	var blob []byte
	err := s.db.QueryRow(ctx,
		`SELECT state, version, updated_at FROM sessions WHERE channel = $1 AND user_key = $2`,
		string(ch), userKey,
	).Scan(&blob, &rec.Version, &rec.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return s.create(ctx, ch, userKey, now)
	}
	if err != nil {
		return nil, fmt.Errorf("session: load %s/%s: %w", ch, userKey, err)
	}

	if err := json.Unmarshal(blob, &rec.State); err != nil {
		return nil, fmt.Errorf("session: decode state %s/%s: %w", ch, userKey, err)
	}
	return rec, nil
}

func (s *Store) create(ctx context.Context, ch events.Channel, userKey string, now time.Time) (*Record, error) {
	state := Initial(now)
	blob, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("session: encode initial state: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sessions (channel, user_key, state, version, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (channel, user_key) DO NOTHING
	`, string(ch), userKey, blob, now)
	if err != nil {
		return nil, fmt.Errorf("session: create %s/%s: %w", ch, userKey, err)
	}
	return &Record{Channel: ch, UserKey: userKey, State: state, Version: 1, UpdatedAt: now}, nil
}

// Save persists the new state only if the row still carries the version the
// caller loaded.
func (s *Store) Save(ctx context.Context, rec *Record, next State, now time.Time) error {
	blob, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("session: encode state: %w", err)
	}
	ct, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET state = $4, version = version + 1, updated_at = $5
		WHERE channel = $1 AND user_key = $2 AND version = $3
	`, string(rec.Channel), rec.UserKey, rec.Version, blob, now)
	if err != nil {
		return fmt.Errorf("session: save %s/%s: %w", rec.Channel, rec.UserKey, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	rec.State = next
	rec.Version++
	rec.UpdatedAt = now
	return nil
}

// Reset rewinds a session to the initial step without deleting the row.
func (s *Store) Reset(ctx context.Context, ch events.Channel, userKey string, now time.Time) error {
	blob, err := json.Marshal(Initial(now))
	if err != nil {
		return fmt.Errorf("session: encode initial state: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		UPDATE sessions SET state = $3, version = version + 1, updated_at = $4
		WHERE channel = $1 AND user_key = $2
	`, string(ch), userKey, blob, now)
	if err != nil {
		return fmt.Errorf("session: reset %s/%s: %w", ch, userKey, err)
	}
	return nil
}

package patients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guzmanclinic/anabot/internal/events"
)

// ErrNotFound is returned when a patient lookup matches no rows.
var ErrNotFound = errors.New("patients: not found")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository provides persistence helpers for patients.
type Repository struct {
	db querier
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("patients: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithQuerier allows injecting mocks for tests.
func NewRepositoryWithQuerier(q querier) *Repository {
	if q == nil {
		panic("patients: querier required")
	}
	return &Repository{db: q}
}

const patientColumns = `id, COALESCE(dni, ''), COALESCE(full_name, ''), birth_date,
	COALESCE(phone, ''), COALESCE(email, ''), COALESCE(wa_user_id, ''), COALESCE(tg_user_id, ''), created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.DNI, &p.FullName, &p.BirthDate, &p.Phone, &p.Email, &p.WaUserID, &p.TgUserID, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("patients: scan: %w", err)
	}
	return &p, nil
}

func channelColumn(ch events.Channel) string {
	if ch == events.ChannelWhatsApp {
		return "wa_user_id"
	}
	return "tg_user_id"
}

// GetByChannelKey looks up the patient owning a channel user id.
func (r *Repository) GetByChannelKey(ctx context.Context, ch events.Channel, userKey string) (*Patient, error) {
	query := fmt.Sprintf(`SELECT %s FROM patients WHERE %s = $1`, patientColumns, channelColumn(ch))
	return scanPatient(r.db.QueryRow(ctx, query, userKey))
}

// GetByDNI looks up the canonical patient for a dni.
func (r *Repository) GetByDNI(ctx context.Context, dni string) (*Patient, error) {
	query := fmt.Sprintf(`SELECT %s FROM patients WHERE dni = $1`, patientColumns)
	return scanPatient(r.db.QueryRow(ctx, query, dni))
}

// CreateShell inserts a provisional patient carrying only the channel user id.
func (r *Repository) CreateShell(ctx context.Context, ch events.Channel, userKey string) (*Patient, error) {
	id := uuid.New()
	query := fmt.Sprintf(`
		INSERT INTO patients (id, %s, created_at)
		VALUES ($1, $2, $3)
		RETURNING %s
	`, channelColumn(ch), patientColumns)
	return scanPatient(r.db.QueryRow(ctx, query, id, userKey, time.Now().UTC()))
}

// UpdateContact refreshes contact fields for an identified patient.
func (r *Repository) UpdateContact(ctx context.Context, dni, phone, email string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE patients SET
			phone = COALESCE(NULLIF($2, ''), phone),
			email = COALESCE(NULLIF($3, ''), email)
		WHERE dni = $1
	`, dni, phone, email)
	if err != nil {
		return fmt.Errorf("patients: update contact: %w", err)
	}
	return nil
}

// Claim assigns a dni and profile to the shell owning (channel, userKey).
// When a canonical patient with that dni already exists, the shell's channel
// id is migrated onto the canonical row and the shell is deleted, atomically.
// Returns the resulting canonical patient.
func (r *Repository) Claim(ctx context.Context, ch events.Channel, userKey, dni string, profile Profile) (*Patient, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("patients: begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	col := channelColumn(ch)

	canonical, err := scanPatient(tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM patients WHERE dni = $1 FOR UPDATE`, patientColumns), dni))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var claimed *Patient
	if canonical != nil {
		// merge: move the channel id onto the canonical row, drop the shell
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM patients WHERE %s = $1 AND dni IS NULL`, col), userKey); err != nil {
			return nil, fmt.Errorf("patients: discard shell: %w", err)
		}
		claimed, err = scanPatient(tx.QueryRow(ctx, fmt.Sprintf(`
			UPDATE patients SET
				%s = $2,
				full_name = COALESCE(NULLIF($3, ''), full_name),
				birth_date = COALESCE($4, birth_date),
				phone = COALESCE(NULLIF($5, ''), phone),
				email = COALESCE(NULLIF($6, ''), email)
			WHERE dni = $1
			RETURNING %s
		`, col, patientColumns), dni, userKey, profile.FullName, profile.BirthDate, profile.Phone, profile.Email))
		if err != nil {
			return nil, err
		}
	} else {
		claimed, err = scanPatient(tx.QueryRow(ctx, fmt.Sprintf(`
			UPDATE patients SET
				dni = $2,
				full_name = COALESCE(NULLIF($3, ''), full_name),
				birth_date = COALESCE($4, birth_date),
				phone = COALESCE(NULLIF($5, ''), phone),
				email = COALESCE(NULLIF($6, ''), email)
			WHERE %s = $1 AND dni IS NULL
			RETURNING %s
		`, col, patientColumns), userKey, dni, profile.FullName, profile.BirthDate, profile.Phone, profile.Email))
		if errors.Is(err, ErrNotFound) {
			// no shell yet for this key, insert directly as identified
			claimed, err = scanPatient(tx.QueryRow(ctx, fmt.Sprintf(`
				INSERT INTO patients (id, dni, full_name, birth_date, phone, email, %s, created_at)
				VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
				RETURNING %s
			`, col, patientColumns), uuid.New(), dni, profile.FullName, profile.BirthDate, profile.Phone, profile.Email, userKey, time.Now().UTC()))
		}
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("patients: commit claim: %w", err)
	}
	return claimed, nil
}

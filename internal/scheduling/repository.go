package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an appointment lookup matches no rows.
var ErrNotFound = errors.New("scheduling: appointment not found")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides persistence helpers for appointments.
type Repository struct {
	db querier
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithQuerier allows injecting mocks for tests.
func NewRepositoryWithQuerier(q querier) *Repository {
	if q == nil {
		panic("scheduling: querier required")
	}
	return &Repository{db: q}
}

const appointmentColumns = `id, COALESCE(patient_dni, ''), site, starts_at, duration_minutes, status,
	COALESCE(reminder_channel, ''), reminder_sent_at, COALESCE(cancel_reason, ''),
	COALESCE(calendar_event_id, ''), COALESCE(calendar_link, ''), created_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientDNI, &a.Site, &a.StartsAt, &a.DurationMinutes, &a.Status,
		&a.ReminderChannel, &a.ReminderSentAt, &a.CancelReason, &a.CalendarEventID, &a.CalendarLink, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scheduling: scan appointment: %w", err)
	}
	return &a, nil
}

// Insert creates an appointment row and returns it.
func (r *Repository) Insert(ctx context.Context, a Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO appointments
			(patient_dni, site, starts_at, duration_minutes, status, reminder_channel,
			 calendar_event_id, calendar_link, created_at)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NOW())
		RETURNING %s
	`, appointmentColumns),
		a.PatientDNI, a.Site, a.StartsAt.UTC(), a.DurationMinutes, a.Status,
		a.ReminderChannel, a.CalendarEventID, a.CalendarLink)
	inserted, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("scheduling: insert appointment: %w", err)
	}
	return inserted, nil
}

// Get fetches one appointment by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Appointment, error) {
	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE id = $1`, appointmentColumns)
	return scanAppointment(r.db.QueryRow(ctx, query, id))
}

// ActiveBetween lists non-cancelled appointments for a site whose start falls
// in [from, to).
func (r *Repository) ActiveBetween(ctx context.Context, site string, from, to time.Time) ([]Appointment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM appointments
		WHERE site = $1 AND status IN ('PENDING','CONFIRMED')
		  AND starts_at >= $2 AND starts_at < $3
		ORDER BY starts_at ASC
	`, appointmentColumns)
	return r.list(ctx, query, site, from.UTC(), to.UTC())
}

// UpcomingByDNI lists the patient's future non-cancelled appointments.
func (r *Repository) UpcomingByDNI(ctx context.Context, dni string, now time.Time, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 5
	}
	query := fmt.Sprintf(`
		SELECT %s FROM appointments
		WHERE patient_dni = $1 AND status IN ('PENDING','CONFIRMED') AND starts_at >= $2
		ORDER BY starts_at ASC
		LIMIT $3
	`, appointmentColumns)
	return r.list(ctx, query, dni, now.UTC(), limit)
}

// MarkCancelled flips an active appointment to CANCELLED and returns it.
func (r *Repository) MarkCancelled(ctx context.Context, id int64, reason string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		UPDATE appointments
		SET status = 'CANCELLED', cancel_reason = NULLIF($2, '')
		WHERE id = $1 AND status IN ('PENDING','CONFIRMED')
		RETURNING %s
	`, appointmentColumns), id, reason)
	cancelled, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// Confirm promotes a PENDING appointment to CONFIRMED.
func (r *Repository) Confirm(ctx context.Context, id int64) (*Appointment, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		UPDATE appointments SET status = 'CONFIRMED'
		WHERE id = $1 AND status = 'PENDING'
		RETURNING %s
	`, appointmentColumns), id)
	return scanAppointment(row)
}

// SetReminderChannel updates the reminder preference on an appointment.
func (r *Repository) SetReminderChannel(ctx context.Context, id int64, channel string) error {
	ct, err := r.db.Exec(ctx,
		`UPDATE appointments SET reminder_channel = $2 WHERE id = $1`, id, channel)
	if err != nil {
		return fmt.Errorf("scheduling: set reminder channel: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DueReminders lists active appointments starting inside the lead window with
// no reminder sent yet.
func (r *Repository) DueReminders(ctx context.Context, now time.Time, lead time.Duration) ([]Appointment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM appointments
		WHERE status IN ('PENDING','CONFIRMED')
		  AND reminder_sent_at IS NULL
		  AND starts_at > $1 AND starts_at <= $2
		ORDER BY starts_at ASC
	`, appointmentColumns)
	return r.list(ctx, query, now.UTC(), now.Add(lead).UTC())
}

// MarkReminderSent stamps the reminder as delivered, returning false when a
// concurrent run already stamped it.
func (r *Repository) MarkReminderSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE appointments SET reminder_sent_at = $2
		WHERE id = $1 AND reminder_sent_at IS NULL
	`, id, at.UTC())
	if err != nil {
		return false, fmt.Errorf("scheduling: mark reminder sent: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduling: iterate appointments: %w", err)
	}
	return out, nil
}

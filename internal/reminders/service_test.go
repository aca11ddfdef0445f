package reminders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/guzmanclinic/anabot/internal/events"
	"github.com/guzmanclinic/anabot/internal/messaging"
	"github.com/guzmanclinic/anabot/internal/notify"
	"github.com/guzmanclinic/anabot/internal/observability/metrics"
	"github.com/guzmanclinic/anabot/internal/patients"
	"github.com/guzmanclinic/anabot/internal/scheduling"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) SendText(_ context.Context, userKey, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, userKey+": "+text)
	return nil
}

type recordingEmail struct {
	msgs []notify.EmailMessage
}

func (r *recordingEmail) Send(_ context.Context, msg notify.EmailMessage) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

type harness struct {
	svc   *Service
	pool  pgxmock.PgxPoolIface
	wa    *recordingSender
	tg    *recordingSender
	email *recordingEmail
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	wa := &recordingSender{}
	tg := &recordingSender{}
	email := &recordingEmail{}

	dispatcher := messaging.NewDispatcher(nil)
	dispatcher.Register(events.ChannelWhatsApp, wa)
	dispatcher.Register(events.ChannelTelegram, tg)

	svc := NewService(Config{
		Appointments: scheduling.NewRepositoryWithQuerier(pool),
		Patients:     patients.NewRepositoryWithQuerier(pool),
		Dispatcher:   dispatcher,
		Email:        email,
		Metrics:      metrics.NewConversationMetrics(prometheus.NewRegistry()),
		LeadTime:     24 * time.Hour,
	})

	return &harness{svc: svc, pool: pool, wa: wa, tg: tg, email: email}
}

var apptCols = []string{
	"id", "patient_dni", "site", "starts_at", "duration_minutes", "status",
	"reminder_channel", "reminder_sent_at", "cancel_reason",
	"calendar_event_id", "calendar_link", "created_at",
}

var patientCols = []string{
	"id", "dni", "full_name", "birth_date", "phone", "email", "wa_user_id", "tg_user_id", "created_at",
}

func dueRow(id int64, dni, reminderChannel string, startsAt time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(apptCols).AddRow(
		id, dni, "GYE", startsAt, 45, scheduling.StatusConfirmed,
		reminderChannel, (*time.Time)(nil), "", "cal-1", "", time.Now().UTC())
}

func patientRow(dni, email, waID, tgID string) *pgxmock.Rows {
	return pgxmock.NewRows(patientCols).AddRow(
		uuid.New(), dni, "María Andrade", (*time.Time)(nil), "0991234567", email, waID, tgID, time.Now().UTC())
}

func TestRunOnceSendsWhatsAppReminder(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	startsAt := now.Add(6 * time.Hour)

	h.pool.ExpectQuery(`SELECT .* FROM appointments`).
		WithArgs(now, now.Add(24*time.Hour)).
		WillReturnRows(dueRow(42, "0912345678", "wa", startsAt))
	h.pool.ExpectExec(`UPDATE appointments SET reminder_sent_at`).
		WithArgs(int64(42), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	h.pool.ExpectQuery(`SELECT .* FROM patients WHERE dni`).
		WithArgs("0912345678").
		WillReturnRows(patientRow("0912345678", "", "593999000111", ""))

	h.svc.RunOnce(context.Background(), now)

	require.Len(t, h.wa.sent, 1)
	require.Contains(t, h.wa.sent[0], "593999000111")
	require.Contains(t, h.wa.sent[0], "lunes 10 de marzo a las 15:00")
	require.Contains(t, h.wa.sent[0], "Guayaquil")
	require.NoError(t, h.pool.ExpectationsWereMet())
}

func TestRunOnceSendsEmailReminder(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	h.pool.ExpectQuery(`SELECT .* FROM appointments`).
		WithArgs(now, now.Add(24*time.Hour)).
		WillReturnRows(dueRow(7, "0912345678", "email", now.Add(3*time.Hour)))
	h.pool.ExpectExec(`UPDATE appointments SET reminder_sent_at`).
		WithArgs(int64(7), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	h.pool.ExpectQuery(`SELECT .* FROM patients WHERE dni`).
		WithArgs("0912345678").
		WillReturnRows(patientRow("0912345678", "maria@example.com", "", ""))

	h.svc.RunOnce(context.Background(), now)

	require.Len(t, h.email.msgs, 1)
	require.Equal(t, "maria@example.com", h.email.msgs[0].To)
	require.Contains(t, h.email.msgs[0].Subject, "Recordatorio")
	require.Empty(t, h.wa.sent)
	require.NoError(t, h.pool.ExpectationsWereMet())
}

func TestRunOnceSkipsAlreadyClaimed(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	h.pool.ExpectQuery(`SELECT .* FROM appointments`).
		WithArgs(now, now.Add(24*time.Hour)).
		WillReturnRows(dueRow(7, "0912345678", "wa", now.Add(3*time.Hour)))
	h.pool.ExpectExec(`UPDATE appointments SET reminder_sent_at`).
		WithArgs(int64(7), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	h.svc.RunOnce(context.Background(), now)

	require.Empty(t, h.wa.sent)
	require.Empty(t, h.email.msgs)
	require.NoError(t, h.pool.ExpectationsWereMet())
}

func TestRunOnceFallsBackToReachableChannel(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	// Preference says WhatsApp but the patient only has a Telegram identity.
	h.pool.ExpectQuery(`SELECT .* FROM appointments`).
		WithArgs(now, now.Add(24*time.Hour)).
		WillReturnRows(dueRow(8, "0912345678", "wa", now.Add(3*time.Hour)))
	h.pool.ExpectExec(`UPDATE appointments SET reminder_sent_at`).
		WithArgs(int64(8), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	h.pool.ExpectQuery(`SELECT .* FROM patients WHERE dni`).
		WithArgs("0912345678").
		WillReturnRows(patientRow("0912345678", "", "", "88001122"))

	h.svc.RunOnce(context.Background(), now)

	require.Empty(t, h.wa.sent)
	require.Len(t, h.tg.sent, 1)
	require.Contains(t, h.tg.sent[0], "88001122")
	require.NoError(t, h.pool.ExpectationsWereMet())
}

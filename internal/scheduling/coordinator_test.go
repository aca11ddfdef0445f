package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/guzmanclinic/anabot/internal/calendar"
)

type stubCalendar struct {
	create    func(calendar.EventRequest) (*calendar.Event, error)
	deleted   []string
	deleteErr error
}

func (s *stubCalendar) CreateEvent(_ context.Context, req calendar.EventRequest) (*calendar.Event, error) {
	if s.create != nil {
		return s.create(req)
	}
	return &calendar.Event{ID: "evt-123", Link: "https://calendar/evt-123"}, nil
}

func (s *stubCalendar) DeleteEvent(_ context.Context, eventID string) error {
	s.deleted = append(s.deleted, eventID)
	return s.deleteErr
}

func testPolicy() Policy {
	return Policy{Duration: 45 * time.Minute, Gap: 15 * time.Minute, Lookahead: 14 * 24 * time.Hour, Location: time.UTC}
}

// nextWeekdayAt returns the next occurrence of the weekday, always at least
// one day out so slots are in the future regardless of when the test runs.
func nextWeekdayAt(wd time.Weekday, hour int) time.Time {
	d := time.Now().UTC().AddDate(0, 0, 1)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func emptyAppointments() *pgxmock.Rows {
	return pgxmock.NewRows(appointmentCols)
}

func TestProposeBookingHappyPath(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	cal := &stubCalendar{}
	coord := NewCoordinator(NewRepositoryWithQuerier(mock), cal, DefaultHours(), testPolicy(), nil)

	start := nextWeekdayAt(time.Monday, 10)
	day := midnight(start)
	mock.ExpectQuery("SELECT .+ FROM appointments").
		WithArgs(SiteGuayaquil, day, day.AddDate(0, 0, 1)).
		WillReturnRows(emptyAppointments())
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs("0102030405", SiteGuayaquil, start, 45, StatusPending, "wa", "evt-123", "https://calendar/evt-123").
		WillReturnRows(appointmentRow(11, "0102030405", SiteGuayaquil, start, StatusPending))

	appt, err := coord.ProposeBooking(context.Background(), "0102030405", SiteGuayaquil, start, "wa")
	require.NoError(t, err)
	require.Equal(t, int64(11), appt.ID)
	require.Equal(t, StatusPending, appt.Status)
	require.NotEmpty(t, appt.CalendarEventID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProposeBookingConflictSuggestsNextFree(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	coord := NewCoordinator(NewRepositoryWithQuerier(mock), &stubCalendar{}, DefaultHours(), testPolicy(), nil)

	start := nextWeekdayAt(time.Monday, 10)
	day := midnight(start)
	taken := appointmentRow(1, "0999999999", SiteGuayaquil, start, StatusConfirmed)
	mock.ExpectQuery("SELECT .+ FROM appointments").
		WithArgs(SiteGuayaquil, day, day.AddDate(0, 0, 1)).
		WillReturnRows(taken)
	// forward scan re-reads the lookahead range
	mock.ExpectQuery("SELECT .+ FROM appointments").
		WithArgs(SiteGuayaquil, start, start.Add(14*24*time.Hour)).
		WillReturnRows(appointmentRow(1, "0999999999", SiteGuayaquil, start, StatusConfirmed))

	_, err = coord.ProposeBooking(context.Background(), "0102030405", SiteGuayaquil, start, "wa")
	var conflict *SlotConflictError
	require.ErrorAs(t, err, &conflict)
	require.NotNil(t, conflict.NextFree)
	// the suggestion must clear the occupied block plus the gap
	require.False(t, conflict.NextFree.Before(start.Add(60*time.Minute)))
	require.Equal(t, start.Add(60*time.Minute), *conflict.NextFree)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProposeBookingCalendarDownLeavesNoRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	cal := &stubCalendar{create: func(calendar.EventRequest) (*calendar.Event, error) {
		return nil, errors.New("googleapi: 503")
	}}
	coord := NewCoordinator(NewRepositoryWithQuerier(mock), cal, DefaultHours(), testPolicy(), nil)

	start := nextWeekdayAt(time.Monday, 10)
	day := midnight(start)
	mock.ExpectQuery("SELECT .+ FROM appointments").
		WithArgs(SiteGuayaquil, day, day.AddDate(0, 0, 1)).
		WillReturnRows(emptyAppointments())

	_, err = coord.ProposeBooking(context.Background(), "0102030405", SiteGuayaquil, start, "wa")
	require.ErrorIs(t, err, ErrCalendarUnavailable)
	// no INSERT was expected: a calendar failure must not create a local row
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProposeBookingRejectsPastAndClosedSlots(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	coord := NewCoordinator(NewRepositoryWithQuerier(mock), &stubCalendar{}, DefaultHours(), testPolicy(), nil)

	past := time.Now().UTC().Add(-2 * time.Hour)
	_, err = coord.ProposeBooking(context.Background(), "0102030405", SiteGuayaquil, past, "wa")
	require.ErrorIs(t, err, ErrPastSlot)

	sunday := nextWeekdayAt(time.Sunday, 10)
	_, err = coord.ProposeBooking(context.Background(), "0102030405", SiteGuayaquil, sunday, "wa")
	require.ErrorIs(t, err, ErrOutsideHours)

	_, err = coord.ProposeBooking(context.Background(), "0102030405", "UIO", nextWeekdayAt(time.Monday, 10), "wa")
	require.Error(t, err)
}

func TestCancelDeletesCalendarEventBestEffort(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	cal := &stubCalendar{deleteErr: errors.New("googleapi: 404")}
	coord := NewCoordinator(NewRepositoryWithQuerier(mock), cal, DefaultHours(), testPolicy(), nil)

	start := nextWeekdayAt(time.Tuesday, 11)
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(int64(3), "ya no puedo").
		WillReturnRows(appointmentRow(3, "0102030405", SiteGuayaquil, start, StatusCancelled))

	appt, err := coord.Cancel(context.Background(), 3, "ya no puedo")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, appt.Status)
	require.Equal(t, []string{"cal-1"}, cal.deleted)
}

func TestCancelMissingAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	coord := NewCoordinator(NewRepositoryWithQuerier(mock), &stubCalendar{}, DefaultHours(), testPolicy(), nil)

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(int64(404), "").
		WillReturnError(pgx.ErrNoRows)
	_, err = coord.Cancel(context.Background(), 404, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterPendingSkipsCalendar(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	cal := &stubCalendar{create: func(calendar.EventRequest) (*calendar.Event, error) {
		t.Fatal("pending registrations must not reserve calendar blocks")
		return nil, nil
	}}
	coord := NewCoordinator(NewRepositoryWithQuerier(mock), cal, DefaultHours(), testPolicy(), nil)

	start := nextWeekdayAt(time.Wednesday, 9)
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs("0102030405", SiteMilagro, start, 45, StatusPending, "tg", "", "").
		WillReturnRows(appointmentRow(21, "0102030405", SiteMilagro, start, StatusPending))

	appt, err := coord.RegisterPending(context.Background(), "0102030405", SiteMilagro, start, "tg")
	require.NoError(t, err)
	require.Equal(t, StatusPending, appt.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFreeSlotsSkipsOccupied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	coord := NewCoordinator(NewRepositoryWithQuerier(mock), &stubCalendar{}, DefaultHours(), testPolicy(), nil)

	day := midnight(nextWeekdayAt(time.Saturday, 0))
	nine := day.Add(9 * time.Hour)
	mock.ExpectQuery("SELECT .+ FROM appointments").
		WithArgs(SiteGuayaquil, day, day.AddDate(0, 0, 1)).
		WillReturnRows(appointmentRow(1, "0999999999", SiteGuayaquil, nine, StatusConfirmed))

	slots, err := coord.FreeSlots(context.Background(), SiteGuayaquil, day)
	require.NoError(t, err)
	// Saturday runs 09:00-16:00; the 09:00 block is taken
	require.Len(t, slots, 6)
	require.Equal(t, nine.Add(time.Hour), slots[0])
	require.Equal(t, day.Add(15*time.Hour), slots[len(slots)-1])
}

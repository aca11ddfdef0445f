package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/guzmanclinic/anabot/internal/events"
)

func TestLoadCreatesInitialSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewStoreWithQuerier(mock)

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT state, version, updated_at FROM sessions").
		WithArgs("wa", "593999000111").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("wa", "593999000111", pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec, err := store.Load(context.Background(), events.ChannelWhatsApp, "593999000111", now)
	require.NoError(t, err)
	require.Equal(t, StepStart, rec.State.Step)
	require.Equal(t, 1, rec.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadExistingSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewStoreWithQuerier(mock)

	state := State{Step: StepMenu, Greeted: true, PatientDNI: "0102030405", LastActivity: time.Now().UTC()}
	blob, err := json.Marshal(state)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT state, version, updated_at FROM sessions").
		WithArgs("tg", "100200").
		WillReturnRows(pgxmock.NewRows([]string{"state", "version", "updated_at"}).
			AddRow(blob, 4, time.Now().UTC()))

	rec, err := store.Load(context.Background(), events.ChannelTelegram, "100200", time.Now())
	require.NoError(t, err)
	require.Equal(t, StepMenu, rec.State.Step)
	require.Equal(t, "0102030405", rec.State.PatientDNI)
	require.Equal(t, 4, rec.Version)
}

func TestSaveBumpsVersion(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewStoreWithQuerier(mock)

	now := time.Now().UTC()
	rec := &Record{Channel: events.ChannelWhatsApp, UserKey: "593", State: Initial(now), Version: 2}

	mock.ExpectExec("UPDATE sessions").
		WithArgs("wa", "593", 2, pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	next := rec.State
	next.Step = StepMenu
	require.NoError(t, store.Save(context.Background(), rec, next, now))
	require.Equal(t, 3, rec.Version)
	require.Equal(t, StepMenu, rec.State.Step)
}

func TestSaveVersionConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewStoreWithQuerier(mock)

	now := time.Now().UTC()
	rec := &Record{Channel: events.ChannelWhatsApp, UserKey: "593", State: Initial(now), Version: 2}

	mock.ExpectExec("UPDATE sessions").
		WithArgs("wa", "593", 2, pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.Save(context.Background(), rec, rec.State, now)
	require.ErrorIs(t, err, ErrVersionConflict)
	require.Equal(t, 2, rec.Version)
}

func TestIdle(t *testing.T) {
	now := time.Now()
	s := State{LastActivity: now.Add(-45 * time.Minute)}
	require.True(t, s.Idle(now, 30*time.Minute))
	require.False(t, s.Idle(now, time.Hour))
	require.False(t, State{}.Idle(now, 30*time.Minute))
}

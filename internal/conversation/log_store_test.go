package conversation

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestAppendTurn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewLogStore(db)

	mock.ExpectExec("INSERT INTO conversation_logs").
		WithArgs("wa", "593999000111", "hola", "¡Buenos días!", "AWAIT_IDENTITY", false).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.AppendTurn(context.Background(), LogEntry{
		Channel:  "wa",
		UserKey:  "593999000111",
		UserText: "hola",
		BotReply: "¡Buenos días!",
		Status:   "AWAIT_IDENTITY",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordContactRequest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewLogStore(db)

	mock.ExpectExec("INSERT INTO contact_requests").
		WithArgs("tg", "100200", "dolor en el pecho", true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.RecordContactRequest(context.Background(), ContactRecord{
		Channel: "tg", UserKey: "100200", Text: "dolor en el pecho", Urgent: true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentLogsFiltersByChannel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewLogStore(db)

	rows := sqlmock.NewRows([]string{"id", "channel", "user_key", "user_text", "bot_reply", "status", "handoff", "created_at"}).
		AddRow(2, "wa", "593999000111", "agendar", "¿En qué sede?", "AWAIT_SITE", false, time.Now()).
		AddRow(1, "wa", "593999000111", "hola", "¡Buenos días!", "AWAIT_IDENTITY", false, time.Now())
	mock.ExpectQuery("SELECT id, channel, user_key").
		WithArgs("wa", 50).
		WillReturnRows(rows)

	logs, err := store.RecentLogs(context.Background(), "wa", 50)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, "agendar", logs[0].UserText)
}

func TestPendingContactRequestsDefaultsLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewLogStore(db)

	mock.ExpectQuery("SELECT id, channel, user_key, text, urgent").
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "channel", "user_key", "text", "urgent", "created_at"}))

	out, err := store.PendingContactRequests(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, out)
}

package events

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestWindow(t *testing.T) (*DedupWindow, pgxmock.PgxPoolIface) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return NewDedupWindow(client, NewProcessedStoreWithQuerier(mock)), mock
}

func TestDedupWindowMarkThenSeen(t *testing.T) {
	window, mock := newTestWindow(t)
	ev := Inbound{Channel: ChannelWhatsApp, EventID: "wamid.1", UserKey: "+593999", ReceivedAt: time.Now()}

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("wa", "wamid.1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, window.Mark(context.Background(), ev))

	// served from the redis window, no store query expected
	seen, err := window.Seen(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, seen)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupWindowFallsBackToStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	// no redis client at all
	window := NewDedupWindow(nil, NewProcessedStoreWithQuerier(mock))
	ev := Inbound{Channel: ChannelTelegram, EventID: "42", UserKey: "100200"}

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("tg", "42").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	seen, err := window.Seen(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, seen)
	require.NoError(t, mock.ExpectationsWereMet())
}

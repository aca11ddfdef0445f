package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/guzmanclinic/anabot/internal/events"
)

type fakeSender struct {
	calls []string
	err   error
}

func (f *fakeSender) SendText(_ context.Context, userKey, text string) error {
	f.calls = append(f.calls, userKey+": "+text)
	return f.err
}

func TestSendRoutesToChannelSender(t *testing.T) {
	d := NewDispatcher(nil)
	wa := &fakeSender{}
	tg := &fakeSender{}
	d.Register(events.ChannelWhatsApp, wa)
	d.Register(events.ChannelTelegram, tg)

	require.NoError(t, d.Send(context.Background(), events.ChannelTelegram, "88001122", "hola"))

	require.Empty(t, wa.calls)
	require.Equal(t, []string{"88001122: hola"}, tg.calls)
}

func TestSendEmptyTextIsNoop(t *testing.T) {
	d := NewDispatcher(nil)
	wa := &fakeSender{}
	d.Register(events.ChannelWhatsApp, wa)

	require.NoError(t, d.Send(context.Background(), events.ChannelWhatsApp, "593999000111", ""))
	require.Empty(t, wa.calls)
}

func TestSendUnregisteredChannel(t *testing.T) {
	d := NewDispatcher(nil)

	err := d.Send(context.Background(), events.ChannelWhatsApp, "593999000111", "hola")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no sender registered")
}

func TestSendWrapsProviderError(t *testing.T) {
	d := NewDispatcher(nil)
	boom := errors.New("rate limited")
	d.Register(events.ChannelWhatsApp, &fakeSender{err: boom})

	err := d.Send(context.Background(), events.ChannelWhatsApp, "593999000111", "hola")
	require.ErrorIs(t, err, boom)
}

func TestRegisterNilSenderPanics(t *testing.T) {
	d := NewDispatcher(nil)
	require.Panics(t, func() { d.Register(events.ChannelWhatsApp, nil) })
}

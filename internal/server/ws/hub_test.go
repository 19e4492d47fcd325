package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type chanBus struct{ chans map[string]chan []byte }

func (b *chanBus) Publish(_ context.Context, ch string, p []byte) error {
	b.chans[ch] <- p
	return nil
}
func (b *chanBus) Subscribe(_ context.Context, ch string) (<-chan []byte, error) {
	return b.chans[ch], nil
}
func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestHubRelaysBusMessages(t *testing.T) {
	bus := &chanBus{chans: map[string]chan []byte{}}
	for _, ch := range DefaultChannels {
		bus.chans[ch] = make(chan []byte, 1)
	}
	hub := NewHub(bus, Config{Mode: "monitor"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello Envelope
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello.Type)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, bus.Publish(ctx, domain.ChannelStatus, []byte(`{"cycle_id":"c1"}`)))

	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "event", env.Type)
	assert.Equal(t, domain.ChannelStatus, env.Channel)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "c1", payload["cycle_id"])
}

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:status": true, "ch:exec*": true}}
	assert.True(t, c.isSubscribed("ch:status"))
	assert.True(t, c.isSubscribed("ch:executions"))
	assert.False(t, c.isSubscribed("ch:opportunities"))

	c.applySubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:status"}})
	assert.False(t, c.isSubscribed("ch:status"))
}

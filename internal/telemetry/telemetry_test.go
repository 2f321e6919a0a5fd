package telemetry

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/cabintrainer/internal/core/events"
	"github.com/zeusync/cabintrainer/internal/core/events/bus"
)

func dial(t *testing.T, h *Hub) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(Mux(h, NewMetrics()))
	t.Cleanup(srv.Close)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)
	return conn, srv
}

func TestHubStreamsNotifications(t *testing.T) {
	h := NewHub(nil)
	b := bus.New()
	b.AddObserver(h)
	conn, _ := dial(t, h)

	require.NoError(t, events.Publish(b, events.Connected, "belt_left", events.Link{Endpoint: "belt_left", Partner: "belt_right"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Topic  string      `json:"topic"`
		Kind   string      `json:"kind"`
		Source string      `json:"source"`
		Data   events.Link `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "belt_left", msg.Topic)
	assert.Equal(t, events.Connected, msg.Kind)
	assert.Equal(t, "belt_right", msg.Data.Partner)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	h := NewHub(nil)
	conn, _ := dial(t, h)

	h.Close()
	assert.Equal(t, 0, h.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "%v", err)
}

func TestHubDropsClientOnDisconnect(t *testing.T) {
	h := NewHub(nil)
	conn, _ := dial(t, h)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMetricsCountNotifications(t *testing.T) {
	m := NewMetrics()
	b := bus.New()
	b.AddObserver(m)

	_, err := b.SubscribeTopic("bag", events.ContactLost, func(bus.Event) error { return errors.New("boom") })
	require.NoError(t, err)

	require.NoError(t, events.Publish(b, events.BothHeld, "bag", events.Gate{Object: "bag"}))
	require.NoError(t, events.Publish(b, events.BothHeld, "bag", events.Gate{Object: "bag"}))
	assert.Error(t, events.Publish(b, events.ContactLost, "bag", events.Gate{Object: "bag"}))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.notifications.WithLabelValues(events.BothHeld)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(events.ContactLost)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.failures.WithLabelValues(events.BothHeld)))
}

func TestMetricsEndpoint(t *testing.T) {
	m := NewMetrics()
	m.OnPublish("zone", events.ZoneReached, nil)

	srv := httptest.NewServer(Mux(NewHub(nil), m))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cabintrainer_bus_notifications_total{kind="zone.reached"} 1`)
}

func TestMessageEncoding(t *testing.T) {
	raw, err := json.Marshal(Message{Kind: events.StepsReset, Source: "seatbelt"})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"data"`)
}

package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/odvcencio/steward/pkg/bus"
)

func TestEventStream(t *testing.T) {
	eventBus := bus.NewMemoryBus()
	defer eventBus.Close()

	server, _ := setupServer(t)
	server.cfg.EventBus = eventBus

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/api/v1/events?filter=steward.worker.>"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var hello StreamEvent
	require.NoError(t, wsjson.Read(ctx, conn, &hello))
	assert.Equal(t, "connected", hello.Type)
	assert.Equal(t, "steward.worker.>", hello.Data["filter"])

	// Give the subscription time to register before publishing.
	time.Sleep(50 * time.Millisecond)
	subject := bus.ObservationSubject("w1")
	require.NoError(t, eventBus.Publish(ctx, subject, []byte(`{"kind":"progress","message":"halfway"}`)))

	var event StreamEvent
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, subject, event.Type)
	assert.Equal(t, "halfway", event.Data["message"])
}

func TestEventStreamRequiresBus(t *testing.T) {
	server, _ := setupServer(t)

	rec := doRequest(t, server, "GET", "/api/v1/events", nil)
	assert.Equal(t, 503, rec.Code)
}

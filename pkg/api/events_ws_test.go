package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yonasBSD/stract/pkg/realtime"
)

func TestEventsWSDeliversAnnotationEvents(t *testing.T) {
	env := setupTestEnv(t)

	server := httptest.NewServer(env.mux)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/events/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	if resp != nil && resp.Body != nil {
		defer func() {
			_ = resp.Body.Close()
		}()
	}
	defer func() {
		_ = conn.Close()
	}()

	// Wait for the listener to be registered before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Size() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rank := 1
	env.hub.BroadcastAnnotation(realtime.AnnotationEvent{
		ResultID: "q1-https://go.dev/",
		QID:      "q1",
		Rank:     &rank,
		At:       time.Now().UTC(),
	})

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}

	var env2 realtime.Envelope
	if err := conn.ReadJSON(&env2); err != nil {
		t.Fatalf("reading event: %v", err)
	}

	if env2.Type != realtime.EventAnnotation {
		t.Errorf("expected %s event, got %s", realtime.EventAnnotation, env2.Type)
	}
	if env2.Annotation == nil || env2.Annotation.QID != "q1" {
		t.Errorf("unexpected event payload: %+v", env2)
	}
	if env2.Annotation.Rank == nil || *env2.Annotation.Rank != 1 {
		t.Errorf("rank did not survive the round trip: %+v", env2.Annotation)
	}
}

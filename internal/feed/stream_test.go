package feed

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/vigil/pkg/config"
	"github.com/wonny/vigil/pkg/logger"
)

// wsServer upgrades one connection, records the subscribe message and
// pushes the given ticks.
func wsServer(t *testing.T, ticks []streamMessage, gotSubscribe chan subscribeMessage) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		gotSubscribe <- sub

		for i := range ticks {
			if err := conn.WriteJSON(&ticks[i]); err != nil {
				return
			}
		}
		// Hold the connection open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestStreamDeliversTicks(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ticks := []streamMessage{
		{Symbol: "AAPL", Price: 100, Timestamp: t0},
		{Symbol: "AAPL", Price: 101, Timestamp: t0.Add(time.Minute)},
	}
	subCh := make(chan subscribeMessage, 1)
	srv := wsServer(t, ticks, subCh)
	defer srv.Close()

	f := newTestFeed(10)
	cfg := config.FeedConfig{WSURL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	stream := NewStream(cfg, f, []string{"AAPL"}, logger.NewNop())

	if err := stream.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stream.Stop()

	select {
	case sub := <-subCh:
		if sub.Op != "subscribe" || len(sub.Symbols) != 1 || sub.Symbols[0] != "AAPL" {
			t.Errorf("subscribe message = %+v", sub)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe message received")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		returns, _ := f.Returns(context.Background(), []string{"AAPL"}, 10)
		if len(returns["AAPL"]) == 1 {
			if math.Abs(returns["AAPL"][0]-0.01) > 1e-9 {
				t.Errorf("return = %v, want 0.01", returns["AAPL"][0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("ticks never reached the feed")
}

func TestHandleMessageRejectsInvalidTicks(t *testing.T) {
	f := newTestFeed(10)
	stream := NewStream(config.FeedConfig{}, f, nil, logger.NewNop())

	cases := []string{
		`not json`,
		`{"symbol":"","price":100}`,
		`{"symbol":"AAPL","price":0}`,
		`{"symbol":"AAPL","price":-5}`,
	}
	for _, raw := range cases {
		if err := stream.handleMessage([]byte(raw)); err == nil {
			t.Errorf("handleMessage(%q) accepted invalid tick", raw)
		}
	}
}

func TestHandleMessageDefaultsTimestamp(t *testing.T) {
	f := newTestFeed(10)
	stream := NewStream(config.FeedConfig{}, f, nil, logger.NewNop())

	before := time.Now()
	if err := stream.handleMessage([]byte(`{"symbol":"AAPL","price":100}`)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	last, _ := f.LastUpdate(context.Background())
	if last.Before(before) {
		t.Errorf("timestamp %v was not defaulted to now", last)
	}
}

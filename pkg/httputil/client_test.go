package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wonny/vigil/pkg/logger"
)

func TestPostJSONRetriesOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(logger.NewNop(), 5*time.Second).WithRetry(3, time.Millisecond)

	resp, err := client.PostJSON(context.Background(), srv.URL, map[string]string{"msg": "hi"})
	if err != nil {
		t.Fatalf("PostJSON failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after retries, got %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestPostJSONGivesUpAfterBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(logger.NewNop(), 5*time.Second).WithRetry(2, time.Millisecond)

	if _, err := client.PostJSON(context.Background(), srv.URL, nil); err == nil {
		t.Error("Expected error after exhausting retries, got nil")
	}
}

func TestGetDoesNotRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(logger.NewNop(), 5*time.Second).WithRetry(3, time.Millisecond)

	resp, err := client.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("4xx should not be retried, got %d attempts", calls)
	}
}

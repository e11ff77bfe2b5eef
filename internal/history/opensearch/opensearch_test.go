package opensearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tbnorth/tattle/internal/heartbeat"
	"github.com/tbnorth/tattle/internal/history"
)

func TestSendIndexesDocument(t *testing.T) {
	var gotPath string
	var gotEvent history.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotEvent); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := New(srv.URL+"/", "tattle-reports")
	ev := history.Event{
		OccurredAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Entry: heartbeat.Entry{
			Tag:       "backup",
			Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			Status:    heartbeat.StatusOK,
			Message:   "done",
			Source:    "10.0.0.5",
		},
	}
	if err := s.Send(context.Background(), ev); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/tattle-reports/_doc" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotEvent.Entry.Tag != "backup" || gotEvent.Entry.Status != heartbeat.StatusOK {
		t.Fatalf("event round trip: %+v", gotEvent)
	}
}

func TestSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mapping conflict", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := New(srv.URL, "tattle-reports")
	if err := s.Send(context.Background(), history.Event{}); err == nil {
		t.Fatal("expected error for 4xx response")
	}
}

func TestSendUnreachable(t *testing.T) {
	s := New("http://127.0.0.1:1", "tattle-reports")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Send(ctx, history.Event{}); err == nil {
		t.Fatal("expected connection error")
	}
}

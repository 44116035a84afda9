package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

// backlogServer fakes the history API over a fixed room of count messages.
func backlogServer(t *testing.T, count int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rooms/room-1/messages", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		type msg struct {
			ID        string `json:"id"`
			Sender    string `json:"sender"`
			Message   string `json:"message"`
			Timestamp int64  `json:"timestamp"`
		}
		var results []msg
		for i := offset; i < offset+limit && i < count; i++ {
			results = append(results, msg{
				ID:        fmt.Sprintf("m%d", i),
				Sender:    "alice",
				Message:   fmt.Sprintf("message %d", i),
				Timestamp: int64(i * 1000),
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"results": results, "count": count})
	})
	mux.HandleFunc("/api/rooms/room-1/messages/offset", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"offset": 20})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFetchPage(t *testing.T) {
	srv := backlogServer(t, 50)
	src := NewHTTPSource(srv.URL)

	page, err := src.FetchPage(context.Background(), "room-1", 5, 10)
	if err != nil {
		t.Fatal(err)
	}
	if page.Count != 50 {
		t.Errorf("count = %d, want 50", page.Count)
	}
	if len(page.Results) != 5 || page.Results[0].ServerID != "m10" {
		t.Fatalf("results = %d starting %s, want 5 starting m10", len(page.Results), page.Results[0].ServerID)
	}
	if page.Results[0].Text != "message 10" || page.Results[0].Timestamp != 10000 {
		t.Errorf("message fields not mapped: %+v", page.Results[0])
	}
}

func TestHTTPFetchPastEnd(t *testing.T) {
	srv := backlogServer(t, 3)
	src := NewHTTPSource(srv.URL)

	page, err := src.FetchPage(context.Background(), "room-1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Results) != 3 {
		t.Errorf("results = %d, want all 3", len(page.Results))
	}
}

func TestHTTPOffsetOf(t *testing.T) {
	srv := backlogServer(t, 50)
	src := NewHTTPSource(srv.URL)

	off, err := src.OffsetOf(context.Background(), "room-1", "m23", 40)
	if err != nil {
		t.Fatal(err)
	}
	if off != 20 {
		t.Errorf("offset = %d, want 20", off)
	}
}

func TestHTTPErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	src := NewHTTPSource(srv.URL)

	if _, err := src.FetchPage(context.Background(), "room-1", 5, 0); err == nil {
		t.Error("500 response did not surface as an error")
	}
}

package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestXClientFetchAccounts(t *testing.T) {
	var lookups int
	mux := http.NewServeMux()
	mux.HandleFunc("/users/by/username/alice", func(w http.ResponseWriter, r *http.Request) {
		lookups++
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data":{"id":"42","username":"alice","name":"Alice"}}`)
	})
	mux.HandleFunc("/users/by/username/ghost", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"title":"Not Found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/users/42/tweets", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("max_results") != "10" {
			t.Errorf("max_results = %q", r.URL.Query().Get("max_results"))
		}
		fmt.Fprint(w, `{
			"data":[{
				"id":"1001","text":"Big day for #AI and $NVDA","author_id":"42",
				"created_at":"2026-03-01T10:00:00.000Z",
				"entities":{"hashtags":[{"tag":"AI"}],"mentions":[{"username":"bob"}],"cashtags":[{"tag":"NVDA"}]},
				"public_metrics":{"retweet_count":3,"like_count":10,"reply_count":1,"quote_count":2}
			}],
			"includes":{"users":[{"id":"42","username":"alice"}]}
		}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	x := NewXClient(XOptions{
		BaseURL:    srv.URL,
		Token:      "secret",
		MaxResults: 10,
		Logger:     zerolog.Nop(),
	})

	signals, failed := x.FetchAccounts(context.Background(), []string{"@alice", "ghost", "alice"})
	if len(failed) != 1 || failed[0] != "ghost" {
		t.Errorf("failed = %v, want [ghost]", failed)
	}
	if len(signals) != 2 {
		t.Fatalf("expected 2 signals (alice fetched twice), got %d", len(signals))
	}
	if lookups != 1 {
		t.Errorf("expected user lookup to be cached, got %d lookups", lookups)
	}

	s := signals[0]
	if s.ID != "1001" || s.Author != "alice" {
		t.Errorf("unexpected signal identity: %+v", s)
	}
	if !s.CreatedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("created_at = %v", s.CreatedAt)
	}
	if len(s.Hashtags) != 1 || s.Hashtags[0] != "AI" {
		t.Errorf("hashtags = %v", s.Hashtags)
	}
	if len(s.Mentions) != 1 || s.Mentions[0] != "bob" {
		t.Errorf("mentions = %v", s.Mentions)
	}
	if len(s.Cashtags) != 1 || s.Cashtags[0] != "NVDA" {
		t.Errorf("cashtags = %v", s.Cashtags)
	}
	if s.EngagementScore() != 16 {
		t.Errorf("engagement = %d, want 16", s.EngagementScore())
	}
	if got := s.AllEntities(); len(got) != 3 {
		t.Errorf("all entities = %v", got)
	}
}

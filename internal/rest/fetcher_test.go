package rest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"stockbit-capture/internal/token"
)

func validTokenStore(t *testing.T) *token.Store {
	t.Helper()
	store := token.NewStore(filepath.Join(t.TempDir(), "token.json"))
	payload := map[string]any{"exp": time.Now().Add(time.Hour).Unix(), "data": map[string]any{"uid": 1}}
	raw, _ := json.Marshal(payload)
	middle := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(raw)
	bearer := fmt.Sprintf("h.%s.s", middle)
	if _, err := store.Set(bearer, ""); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	return store
}

func TestFetchPageSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sort") != "DESC" {
			t.Errorf("expected sort=DESC, got %s", r.URL.Query().Get("sort"))
		}
		w.Write([]byte(`{"data":{"running_trade":[{"id":"1","trade_number":100,"time":"10:00:00","price":"8200"}],"is_open_market":true}}`))
	}))
	defer srv.Close()

	f := New(srv.URL, validTokenStore(t))
	result := f.FetchPage(context.Background(), "BBCA", "2025-01-02", 50, nil, 3)

	if !result.Success {
		t.Fatalf("expected success, got error: %v", result.Err)
	}
	if result.Count != 1 || !result.IsOpenMarket {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Trades[0].TradeNumber != 100 {
		t.Errorf("expected trade_number 100, got %d", result.Trades[0].TradeNumber)
	}
}

func TestFetchPageUnauthorizedMarksInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := validTokenStore(t)
	f := New(srv.URL, store)
	result := f.FetchPage(context.Background(), "BBCA", "2025-01-02", 50, nil, 3)

	if !result.RequiresLogin {
		t.Fatal("expected RequiresLogin on 401")
	}
	if _, ok := store.GetValid(); ok {
		t.Fatal("expected token to be marked invalid after 401")
	}
}

func TestFetchPageForbiddenRequiresLoginNoRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := New(srv.URL, validTokenStore(t))
	result := f.FetchPage(context.Background(), "BBCA", "2025-01-02", 50, nil, 3)

	if !result.RequiresLogin {
		t.Fatal("expected RequiresLogin on 403")
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected exactly 1 request (no retry on 403), got %d", hits)
	}
}

func TestFetchPageClientErrorNoRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f := New(srv.URL, validTokenStore(t))
	result := f.FetchPage(context.Background(), "BBCA", "2025-01-02", 50, nil, 3)

	if result.Success {
		t.Fatal("expected failure on 400")
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected exactly 1 request for 4xx, got %d", hits)
	}
}

func TestFetchPageServerErrorRetriesThenFails(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(srv.URL, validTokenStore(t))
	start := time.Now()
	result := f.FetchPage(context.Background(), "BBCA", "2025-01-02", 50, nil, 2)
	elapsed := time.Since(start)

	if result.Success {
		t.Fatal("expected failure after retries exhausted")
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected 2 attempts, got %d", hits)
	}
	if elapsed < 1*time.Second {
		t.Errorf("expected at least one backoff sleep (~1s), elapsed only %v", elapsed)
	}
}

func TestFetchPageSucceedsAfterTransientFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"data":{"running_trade":[],"is_open_market":false}}`))
	}))
	defer srv.Close()

	f := New(srv.URL, validTokenStore(t))
	result := f.FetchPage(context.Background(), "BBCA", "2025-01-02", 50, nil, 3)

	if !result.Success {
		t.Fatalf("expected eventual success, got error: %v", result.Err)
	}
	if hits != 2 {
		t.Fatalf("expected 2 attempts, got %d", hits)
	}
}

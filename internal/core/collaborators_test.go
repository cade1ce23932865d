package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"archivecore/pkg/domain"
)

func TestDecodeMetadata(t *testing.T) {
	out, err := decodeMetadata([]byte(`{"title":"One","creator":["A","B"]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out["title"]) != 1 || out["title"][0] != "One" || len(out["creator"]) != 2 {
		t.Fatalf("unexpected fields %v", out)
	}
	if _, err := decodeMetadata([]byte(`{"size":12}`)); err == nil {
		t.Fatalf("expected error for numeric field")
	}
	if _, err := decodeMetadata([]byte(`[]`)); err == nil {
		t.Fatalf("expected error for non-object body")
	}
}

func TestHTTPMetadataFetcherRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"Recovered"}`))
	}))
	defer srv.Close()

	fetcher := NewHTTPMetadataFetcher(srv.URL)
	fetcher.Backoff = time.Millisecond
	out, err := fetcher.Fetch(context.Background(), "abc")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if out["title"][0] != "Recovered" || hits.Load() != 3 {
		t.Fatalf("expected recovery on third attempt, got %v after %d", out, hits.Load())
	}

	hits.Store(-10)
	fetcher.MaxRetries = 1
	_, err = fetcher.Fetch(context.Background(), "abc")
	var ext *domain.ExternalServiceError
	if !errors.As(err, &ext) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestLocalMinterUpdateUnknown(t *testing.T) {
	m := NewLocalMinter("ark:/99999/fk4/")
	rec := domain.NewRecord(TypeWork)
	rec.Set(domain.AttrTitle, domain.Literal("First"))
	id, err := m.Mint(context.Background(), rec)
	if err != nil || m.Title(id) != "First" {
		t.Fatalf("mint: %q %v", id, err)
	}
	if err := m.Update(context.Background(), "ark:/other", rec); err == nil {
		t.Fatalf("expected unknown identifier error")
	}
}

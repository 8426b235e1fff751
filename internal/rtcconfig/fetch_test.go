package rtcconfig

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchREST_Success(t *testing.T) {
	const header = "x-auth-user"
	var gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get(header)
		_, _ = w.Write([]byte(`{"iceServers":[{"urls":["stun:example.com:3478"]}]}`))
	}))
	defer srv.Close()

	cfg, err := FetchREST(context.Background(), srv.Client(), srv.URL, "host1", header)
	if err != nil {
		t.Fatalf("FetchREST: %v", err)
	}
	if gotUser != "host1" {
		t.Fatalf("auth header: got %q, want %q", gotUser, "host1")
	}
	if len(cfg.StunURIs) != 1 {
		t.Fatalf("StunURIs: got %v", cfg.StunURIs)
	}
}

func TestFetchREST_ForbiddenPreservesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := FetchREST(context.Background(), srv.Client(), srv.URL, "host1", "x-auth-user")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("got %v, want *FetchError", err)
	}
	if fetchErr.Status != http.StatusForbidden {
		t.Fatalf("Status: got %d, want %d", fetchErr.Status, http.StatusForbidden)
	}
	if fetchErr.Body == "" {
		t.Fatal("Body should be preserved")
	}
}

func TestFetchREST_EmptyBodyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := FetchREST(context.Background(), srv.Client(), srv.URL, "host1", "x-auth-user")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("got %v, want *FetchError", err)
	}
	if fetchErr.Status != http.StatusOK {
		t.Fatalf("Status: got %d, want %d", fetchErr.Status, http.StatusOK)
	}
}

func TestFetchREST_ConnectionRefused(t *testing.T) {
	_, err := FetchREST(context.Background(), nil, "http://127.0.0.1:1/", "host1", "x-auth-user")
	if err == nil {
		t.Fatal("expected error")
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		t.Fatal("transport failures should not be FetchError")
	}
}

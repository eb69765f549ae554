package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"RiskScanner/internal/domain"
)

func TestClientEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("missing auth header")
		}
		var body struct {
			Model string `json:"model"`
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Model != "nomic" || body.Input != "concurso de acreedores" {
			t.Fatalf("unexpected body %+v", body)
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5,-1,2]}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/v1/", "nomic", "secret")
	vec, err := client.Embed(context.Background(), "concurso de acreedores")
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(vec) != 3 || vec[1] != -1 {
		t.Fatalf("unexpected vector %v", vec)
	}
	if client.ModelName() != "http:nomic" {
		t.Fatalf("unexpected model name %s", client.ModelName())
	}
}

func TestClientEmbedStatusErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "m", "")
	_, err := client.Embed(context.Background(), "x")
	if err == nil || !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}

	status.Store(http.StatusBadRequest)
	_, err = client.Embed(context.Background(), "x")
	if err == nil || domain.IsTransient(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestClientEmbedEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "m", "").Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty data")
	}
}

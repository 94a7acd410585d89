package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProcessSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Text    string            `json:"text"`
			Context map[string]string `json:"context"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Text != "raw transcript text" {
			t.Errorf("unexpected text %q", body.Text)
		}
		if body.Context["transcript_id"] != "tr_1" {
			t.Errorf("unexpected context %v", body.Context)
		}
		w.Write([]byte(`{"summary":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second)
	result, err := client.Process(context.Background(), "raw transcript text", map[string]string{"transcript_id": "tr_1"})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if string(result) != `{"summary":"ok"}` {
		t.Errorf("unexpected result %s", result)
	}
}

func TestProcessTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, "", 50*time.Millisecond)
	start := time.Now()
	if _, err := client.Process(context.Background(), "slow", nil); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout not enforced, took %s", elapsed)
	}
}

func TestProcessServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	if _, err := client.Process(context.Background(), "text", nil); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestProcessSendsBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second)
	if _, err := client.Process(context.Background(), "text", nil); err != nil {
		t.Fatalf("process failed: %v", err)
	}
}

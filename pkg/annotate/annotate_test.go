package annotate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func testAnnotator(url string, token string) *Annotator {
	// Dont output logging
	// https://github.com/golang/go/issues/62005
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(logger, url, "test-model", token, 5*time.Second)
}

func TestAnnotate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("have: %s, want: %s", r.Method, http.MethodPost)
		}
		if have := r.Header.Get("Content-Type"); have != "application/json" {
			t.Errorf("have: %s, want: %s", have, "application/json")
		}
		if have := r.Header.Get("Authorization"); have != "Bearer secret-token" {
			t.Errorf("have: %s, want: %s", have, "Bearer secret-token")
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("unable to decode request: %s", err)
		}
		if req.Model != "test-model" {
			t.Errorf("have: %s, want: %s", req.Model, "test-model")
		}
		if len(req.Messages) != 2 {
			t.Errorf("have: %d, want: %d", len(req.Messages), 2)
		} else {
			if req.Messages[0].Role != "system" {
				t.Errorf("have: %s, want: %s", req.Messages[0].Role, "system")
			}
			if req.Messages[1].Role != "user" {
				t.Errorf("have: %s, want: %s", req.Messages[1].Role, "user")
			}
			if !strings.Contains(req.Messages[1].Content, "example.com") {
				t.Errorf("user message does not contain the summary: %s", req.Messages[1].Content)
			}
		}

		fmt.Fprint(w, `{"choices":[{"message":{"content":"  Traffic looks quiet today.  "}}]}`)
	}))
	defer srv.Close()

	summary := Summary{
		Date:         "2025-03-10",
		TotalQueries: 100,
		TopDomains:   []DomainCount{{Domain: "example.com", Count: 40}},
	}

	text, err := testAnnotator(srv.URL, "secret-token").Annotate(context.Background(), summary)
	if err != nil {
		t.Fatalf("unable to annotate: %s", err)
	}
	if text != "Traffic looks quiet today." {
		t.Fatalf("have: %s, want: %s", text, "Traffic looks quiet today.")
	}
}

func TestAnnotateWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if have := r.Header.Get("Authorization"); have != "" {
			t.Errorf("have: %s, want no Authorization header", have)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"All quiet."}}]}`)
	}))
	defer srv.Close()

	text, err := testAnnotator(srv.URL, "").Annotate(context.Background(), Summary{Date: "2025-03-10"})
	if err != nil {
		t.Fatalf("unable to annotate: %s", err)
	}
	if text != "All quiet." {
		t.Fatalf("have: %s, want: %s", text, "All quiet.")
	}
}

func TestAnnotateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream on fire", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := testAnnotator(srv.URL, "").Annotate(context.Background(), Summary{}); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestAnnotateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	if _, err := testAnnotator(srv.URL, "").Annotate(context.Background(), Summary{}); err == nil {
		t.Fatal("expected error for a response without choices")
	}
}

func TestAnnotateEmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"   "}}]}`)
	}))
	defer srv.Close()

	if _, err := testAnnotator(srv.URL, "").Annotate(context.Background(), Summary{}); err == nil {
		t.Fatal("expected error for an empty completion")
	}
}

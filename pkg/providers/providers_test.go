package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quillmind/quill/pkg/memory"
)

func completionBody(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"content":%q}}]}`, content)
}

func TestCompleteReturnsFirstChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key123" {
			t.Errorf("unexpected auth header %q", auth)
		}
		fmt.Fprint(w, completionBody("hello there"))
	}))
	defer srv.Close()

	c := NewClient("key123", srv.URL, "test/model", time.Second)
	got, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "hello there" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestCompleteWithoutKeyIsValidationError(t *testing.T) {
	c := NewClient("", "http://unused", "m", time.Second)
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, memory.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCompleteSurfacesAPIErrorWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"rate limited"}`)
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "m", time.Second)
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, memory.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIError not wrapped: %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("unexpected status %d", apiErr.Status)
	}
	if apiErr.RetryAfter() != 7*time.Second {
		t.Fatalf("retry-after not parsed: %v", apiErr.RetryAfter())
	}
	if !Retryable(err) {
		t.Fatal("429 must be retryable")
	}
}

func TestRetryableClassification(t *testing.T) {
	if Retryable(fmt.Errorf("wrap: %w", &APIError{Status: http.StatusBadRequest})) {
		t.Fatal("400 must not be retryable")
	}
	if !Retryable(fmt.Errorf("wrap: %w", &APIError{Status: http.StatusBadGateway})) {
		t.Fatal("502 must be retryable")
	}
	if Retryable(context.Canceled) {
		t.Fatal("cancellation must not be retryable")
	}
}

func TestExtractMemoriesParsesContract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody("```json\n{\"memories\":[{\"kind\":\"fact\",\"content\":\"Rent is 1200\",\"confidence\":0.9},{\"kind\":\"weird\",\"content\":\"odd kind\",\"confidence\":0.8}]}\n```"))
	}))
	defer srv.Close()

	e := NewExtractionClient(NewClient("k", srv.URL, "m", time.Second))
	items, err := e.ExtractMemories(context.Background(), "lease.txt", []string{"Rent is 1200 per month."})
	if err != nil {
		t.Fatalf("ExtractMemories failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Kind != memory.KindFact || items[0].Content != "Rent is 1200" {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	// Unknown kinds degrade to plain facts.
	if items[1].Kind != memory.KindFact {
		t.Fatalf("unknown kind not normalized: %+v", items[1])
	}
}

func TestExtractMemoriesRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody("sorry, I cannot produce JSON today"))
	}))
	defer srv.Close()

	e := NewExtractionClient(NewClient("k", srv.URL, "m", time.Second))
	_, err := e.ExtractMemories(context.Background(), "x.txt", []string{"something"})
	if !errors.Is(err, memory.ErrExtraction) {
		t.Fatalf("expected extraction error, got %v", err)
	}
}

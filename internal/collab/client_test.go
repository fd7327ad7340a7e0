package collab_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"montage/internal/collab"
	"montage/internal/services"
)

func newTestClient(handler http.HandlerFunc) (*collab.Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := collab.NewClient(collab.Config{
		Name:     "research-llm",
		Endpoint: server.URL,
		APIKey:   "test-key",
		Model:    "test-model",
	})
	return client, server
}

func TestInvokeReturnsResultPayload(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"facts":["glass is a liquid, slowly"]}}`))
	})
	defer server.Close()

	payload, err := client.Invoke(context.Background(), "research", map[string]string{"topic": "glass"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if string(payload) != `{"facts":["glass is a liquid, slowly"]}` {
		t.Fatalf("unexpected payload: %s", payload)
	}
}

func TestInvokeClassifiesThrottling(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer server.Close()

	_, err := client.Invoke(context.Background(), "research", nil)
	if !errors.Is(err, services.ErrThrottled) {
		t.Fatalf("expected throttled marker, got %v", err)
	}
}

func TestInvokeClassifiesServerErrorsTransient(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer server.Close()

	_, err := client.Invoke(context.Background(), "research", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestInvokeClassifiesBadRequestValidation(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	defer server.Close()

	_, err := client.Invoke(context.Background(), "research", nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
}

func TestInvokeClassifiesOtherClientErrorsFatal(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	defer server.Close()

	_, err := client.Invoke(context.Background(), "research", nil)
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal marker, got %v", err)
	}
}

func TestInvokeAPIErrorIsFatal(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"model quota exceeded"}}`))
	})
	defer server.Close()

	_, err := client.Invoke(context.Background(), "research", nil)
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal marker, got %v", err)
	}
}

func TestInvokeMissingEndpointFails(t *testing.T) {
	client := collab.NewClient(collab.Config{Name: "unconfigured"})
	_, err := client.Invoke(context.Background(), "research", nil)
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal marker, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	hits := 0
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	defer server.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected 1 request, got %d", hits)
	}
}

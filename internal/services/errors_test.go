package services_test

import (
	"errors"
	"testing"

	"montage/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("connection reset")
	err := services.Wrap(services.ErrTransient, "researching", "search", "request failed", base)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped cause to survive")
	}
	if got := services.Classify(err); got != services.KindTransient {
		t.Fatalf("Classify = %s, want %s", got, services.KindTransient)
	}
}

func TestClassifyDefaultsToFatal(t *testing.T) {
	if got := services.Classify(errors.New("boom")); got != services.KindFatal {
		t.Fatalf("Classify = %s, want %s", got, services.KindFatal)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", services.Wrap(services.ErrTransient, "s", "op", "", nil), true},
		{"throttled", services.Wrap(services.ErrThrottled, "s", "op", "", nil), true},
		{"validation", services.Wrap(services.ErrValidation, "s", "op", "", nil), false},
		{"unavailable", services.Wrap(services.ErrUnavailable, "s", "op", "", nil), false},
		{"fatal", errors.New("panic adjacent"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		if got := services.IsRetryable(tc.err); got != tc.want {
			t.Errorf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCountsTowardBreaker(t *testing.T) {
	if services.CountsTowardBreaker(services.Wrap(services.ErrValidation, "s", "op", "bad prompt", nil)) {
		t.Fatal("validation errors must not trip the breaker")
	}
	if !services.CountsTowardBreaker(services.Wrap(services.ErrTransient, "s", "op", "", nil)) {
		t.Fatal("transient errors must count toward the breaker")
	}
}

func TestMessageStripsMarkerPrefix(t *testing.T) {
	err := services.Wrap(services.ErrValidation, "scripting", "parse", "scene numbers must be sequential", nil)
	got := services.Message(err)
	want := "scripting: parse: scene numbers must be sequential"
	if got != want {
		t.Fatalf("Message = %q, want %q", got, want)
	}
}

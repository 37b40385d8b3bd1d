package otel_test

import (
	"context"
	"testing"

	"github.com/wawful/spell-sustainer/internal/platform/otel"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("SPELL_SUSTAINER_OTEL_ENDPOINT", "")
	t.Setenv("SPELL_SUSTAINER_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "sustainer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("SPELL_SUSTAINER_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("SPELL_SUSTAINER_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "sustainer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "ticket-service"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestRootSampler(t *testing.T) {
	cases := []struct {
		ratio float64
		want  string
	}{
		{ratio: 1, want: "AlwaysOnSampler"},
		{ratio: 3, want: "AlwaysOnSampler"},
		{ratio: 0, want: "AlwaysOffSampler"},
		{ratio: -1, want: "AlwaysOffSampler"},
		{ratio: 0.25, want: "TraceIDRatioBased{0.25}"},
	}
	for _, tc := range cases {
		if got := rootSampler(tc.ratio).Description(); got != tc.want {
			t.Fatalf("ratio %v: expected %s, got %s", tc.ratio, tc.want, got)
		}
	}
}

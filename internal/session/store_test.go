package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/halfmap/gameclient/internal/game"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStoreLifecycleSequences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		steps    []func(*Store) error
		wantFlow []Lifecycle
	}{
		{
			name: "registered then started then terminated",
			steps: []func(*Store) error{
				func(s *Store) error { return s.MarkRegistered(context.Background()) },
				func(s *Store) error { return s.MarkStarted(context.Background()) },
				func(s *Store) error {
					return s.Terminate(context.Background(), "Player won", OutcomeNormalWon)
				},
			},
			wantFlow: []Lifecycle{LifecycleRegistered, LifecycleStarted, LifecycleTerminated},
		},
		{
			name: "registration skipped",
			steps: []func(*Store) error{
				func(s *Store) error { return s.MarkStarted(context.Background()) },
				func(s *Store) error {
					return s.Terminate(context.Background(), "poll failed", OutcomeServerFailure)
				},
			},
			wantFlow: []Lifecycle{LifecycleStarted, LifecycleTerminated},
		},
		{
			name: "terminated before start",
			steps: []func(*Store) error{
				func(s *Store) error {
					return s.Terminate(context.Background(), "Player lost", OutcomeNormalLost)
				},
			},
			wantFlow: []Lifecycle{LifecycleTerminated},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := NewStore()
			for i, step := range tt.steps {
				if err := step(store); err != nil {
					t.Fatalf("step %d: %v", i, err)
				}
			}

			history := store.History()
			if len(history) != len(tt.wantFlow) {
				t.Fatalf("history length = %d, want %d", len(history), len(tt.wantFlow))
			}
			for i, record := range history {
				if record.To != tt.wantFlow[i] {
					t.Fatalf("history[%d].To = %s, want %s", i, record.To, tt.wantFlow[i])
				}
			}
			if !store.Snapshot().Terminated {
				t.Fatal("expected terminated flag")
			}
		})
	}
}

func TestStoreTerminateRecordsOnce(t *testing.T) {
	t.Parallel()

	store := NewStore()
	if err := store.Terminate(context.Background(), " Player won ", OutcomeNormalWon); err != nil {
		t.Fatalf("first terminate: %v", err)
	}

	err := store.Terminate(context.Background(), "late failure", OutcomeGeneralFailure)
	if err == nil {
		t.Fatal("expected illegal transition on second terminate, got nil")
	}
	var illegal *IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("error = %T, want *IllegalTransitionError", err)
	}
	if !errors.Is(err, &IllegalTransitionError{}) {
		t.Fatalf("errors.Is(%v, IllegalTransitionError{}) = false, want true", err)
	}

	state := store.Snapshot()
	if state.Outcome != OutcomeNormalWon {
		t.Fatalf("outcome = %s, want %s", state.Outcome, OutcomeNormalWon)
	}
	if state.TerminationDescription != "Player won" {
		t.Fatalf("description = %q, want %q", state.TerminationDescription, "Player won")
	}
}

func TestStoreRejectsStartAfterTermination(t *testing.T) {
	t.Parallel()

	store := NewStore()
	if err := store.Terminate(context.Background(), "poll failed", OutcomeServerFailure); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if err := store.MarkStarted(context.Background()); err == nil {
		t.Fatal("expected error starting a terminated session")
	}
	if store.Snapshot().Started {
		t.Fatal("started flag must stay unset after a rejected transition")
	}
}

func TestStoreTerminateRequiresOutcome(t *testing.T) {
	t.Parallel()

	store := NewStore()
	if err := store.Terminate(context.Background(), "no outcome", OutcomeNone); err == nil {
		t.Fatal("expected error for missing outcome")
	}
	if store.Snapshot().Terminated {
		t.Fatal("terminated flag set without an outcome")
	}
}

func TestStoreMapIsCopied(t *testing.T) {
	t.Parallel()

	store := NewStore()
	source := game.Map{Nodes: []game.Node{{X: 0, Y: 0, Terrain: game.TerrainGrass, PlayerHere: true}}}
	store.SetMap(source)
	source.Nodes[0].PlayerHere = false

	got := store.Map()
	if !got.Nodes[0].PlayerHere {
		t.Fatal("store map changed when the source map was mutated")
	}
}

func TestStoreTransitionUsesClockAndRecordsSpans(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store := NewStore(
		WithTracer(provider.Tracer("session-test")),
		WithClock(func() time.Time { return fixed }),
	)
	if err := store.MarkStarted(context.Background()); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	if err := store.MarkRegistered(context.Background()); err == nil {
		t.Fatal("expected registration after start to be illegal")
	}

	history := store.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if !history[0].Timestamp.Equal(fixed) {
		t.Fatalf("timestamp = %s, want %s", history[0].Timestamp, fixed)
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("span count = %d, want 2", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Fatalf("first span status = %v, want %v", spans[0].Status().Code, codes.Ok)
	}
	if spans[1].Status().Code != codes.Error {
		t.Fatalf("second span status = %v, want %v", spans[1].Status().Code, codes.Error)
	}
}

func TestOutcomeExitCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome Outcome
		want    int
	}{
		{outcome: OutcomeNormalWon, want: ExitCodeWon},
		{outcome: OutcomeNormalLost, want: ExitCodeLost},
		{outcome: OutcomeServerFailure, want: ExitCodeServerFailure},
		{outcome: OutcomeGeneralFailure, want: ExitCodeGeneralFailure},
		{outcome: OutcomeNone, want: ExitCodeSetup},
	}

	seen := map[int]Outcome{}
	for _, tt := range tests {
		got := tt.outcome.ExitCode()
		if got != tt.want {
			t.Fatalf("%q.ExitCode() = %d, want %d", tt.outcome, got, tt.want)
		}
		if previous, dup := seen[got]; dup {
			t.Fatalf("exit code %d shared by %q and %q", got, previous, tt.outcome)
		}
		seen[got] = tt.outcome
	}
}

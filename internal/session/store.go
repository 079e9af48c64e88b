package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/halfmap/gameclient/internal/game"
	"github.com/halfmap/gameclient/internal/telemetry/invariants"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Lifecycle is the coarse position of a session in its lifecycle.
type Lifecycle string

const (
	LifecycleCreated    Lifecycle = "created"
	LifecycleRegistered Lifecycle = "registered"
	LifecycleStarted    Lifecycle = "started"
	LifecycleTerminated Lifecycle = "terminated"
)

// Registration is optional, so created may skip straight to started.
// Terminated has no outgoing transitions.
var allowedTransitions = map[Lifecycle]map[Lifecycle]struct{}{
	LifecycleCreated: {
		LifecycleRegistered: {},
		LifecycleStarted:    {},
		LifecycleTerminated: {},
	},
	LifecycleRegistered: {
		LifecycleStarted:    {},
		LifecycleTerminated: {},
	},
	LifecycleStarted: {
		LifecycleTerminated: {},
	},
}

// State is a snapshot of the session flags.
type State struct {
	Lifecycle              Lifecycle
	Registered             bool
	Started                bool
	Terminated             bool
	TerminationDescription string
	Outcome                Outcome
}

// TransitionRecord stores transition metadata for local history.
type TransitionRecord struct {
	From      Lifecycle
	To        Lifecycle
	Reason    string
	Timestamp time.Time
}

// IllegalTransitionError is returned for a disallowed lifecycle transition.
type IllegalTransitionError struct {
	From Lifecycle
	To   Lifecycle
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot transition session from %q to %q", e.From, e.To)
}

// Is enables errors.Is checks for illegal transition failures.
func (e *IllegalTransitionError) Is(target error) bool {
	_, ok := target.(*IllegalTransitionError)
	return ok
}

// Option configures Store construction.
type Option func(*Store)

// WithTracer configures the tracer used for transition spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(store *Store) {
		if tracer == nil {
			return
		}
		store.tracer = tracer
	}
}

// WithClock overrides the time source used for transition records.
func WithClock(now func() time.Time) Option {
	return func(store *Store) {
		if now == nil {
			return
		}
		store.now = now
	}
}

// Store holds the session flags and the working map. It is owned by a
// single orchestrator goroutine and does no locking.
type Store struct {
	tracer  trace.Tracer
	now     func() time.Time
	state   State
	gameMap game.Map
	history []TransitionRecord
}

// NewStore returns a store in the created lifecycle state.
func NewStore(options ...Option) *Store {
	store := &Store{
		tracer:  otel.Tracer("gameclient/session"),
		now:     time.Now,
		state:   State{Lifecycle: LifecycleCreated},
		history: []TransitionRecord{},
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(store)
	}
	return store
}

// MarkRegistered records a successful player registration.
func (s *Store) MarkRegistered(ctx context.Context) error {
	if err := s.transition(ctx, LifecycleRegistered, "player registered"); err != nil {
		return err
	}
	s.state.Registered = true
	return nil
}

// MarkStarted records that the action loop is about to begin.
func (s *Store) MarkStarted(ctx context.Context) error {
	if err := s.transition(ctx, LifecycleStarted, "game started"); err != nil {
		return err
	}
	s.state.Started = true
	return nil
}

// Terminate records the termination description and outcome. It fails if
// the session already terminated; the first record is never overwritten.
func (s *Store) Terminate(ctx context.Context, description string, outcome Outcome) error {
	if outcome == OutcomeNone {
		return errors.New("termination outcome is required")
	}
	if err := s.transition(ctx, LifecycleTerminated, description); err != nil {
		return err
	}
	s.state.Terminated = true
	s.state.TerminationDescription = strings.TrimSpace(description)
	s.state.Outcome = outcome
	return nil
}

// SetMap replaces the working map with a copy of gameMap.
func (s *Store) SetMap(gameMap game.Map) {
	s.gameMap = gameMap.Clone()
}

// Map returns a copy of the working map.
func (s *Store) Map() game.Map {
	return s.gameMap.Clone()
}

// Snapshot returns the current session flags.
func (s *Store) Snapshot() State {
	return s.state
}

// History returns lifecycle transitions recorded by this store.
func (s *Store) History() []TransitionRecord {
	out := make([]TransitionRecord, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Store) transition(ctx context.Context, to Lifecycle, reason string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	from := s.state.Lifecycle
	reason = strings.TrimSpace(reason)

	ctx, span := s.tracer.Start(ctx, "session.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("from_state", string(from)),
		attribute.String("to_state", string(to)),
		attribute.String("reason", reason),
	)

	if !isAllowed(from, to) {
		invariants.CheckSessionTransitionLegal(ctx, "session.store.transition", string(from), string(to), false)
		err := &IllegalTransitionError{From: from, To: to}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.state.Lifecycle = to
	s.history = append(s.history, TransitionRecord{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: s.now().UTC(),
	})
	span.SetStatus(codes.Ok, "session transition recorded")
	return nil
}

func isAllowed(from, to Lifecycle) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

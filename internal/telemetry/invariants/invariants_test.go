package invariants

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInvariantViolationAddsEventToActiveSpan(t *testing.T) {
	previous := Enabled()
	SetEnabled(true)
	t.Cleanup(func() {
		SetEnabled(previous)
	})

	recorder, restore := installTracerProvider()
	defer restore()

	ctx, span := otel.Tracer("test/invariants").Start(context.Background(), "operation")
	InvariantViolation(ctx, InvariantPhasePolled, SeverityError, ViolationDetails{
		WhatInvariant: "successful poll fills the reply bundle phase",
		WhereDetected: "client.awaitTurn",
		WhyViolated:   "phase left unpolled",
		StackTrace:    "trace",
		Additional: map[string]string{
			"game_id": "game-1",
		},
	})
	span.End()

	events := spanEventsByName(recorder, "operation")
	require.Len(t, events, 1)
	assert.Equal(t, "invariant.violation", events[0].Name)
	assert.Equal(t, InvariantPhasePolled, eventAttr(events[0], "invariant_name"))
	assert.Equal(t, SeverityError, eventAttr(events[0], "severity"))
	assert.Equal(t, "client.awaitTurn", eventAttr(events[0], "where_detected"))
	assert.Equal(t, "game-1", eventAttr(events[0], "context.game_id"))
}

func TestInvariantViolationWithoutActiveSpanUsesTemporarySpan(t *testing.T) {
	previous := Enabled()
	SetEnabled(true)
	t.Cleanup(func() {
		SetEnabled(previous)
	})

	recorder, restore := installTracerProvider()
	defer restore()

	InvariantViolation(context.Background(), InvariantTerminateOnce, SeverityWarn, ViolationDetails{
		WhereDetected: "client.terminate",
	})

	events := spanEventsByName(recorder, "invariant.violation")
	require.Len(t, events, 1)
	assert.Equal(t, InvariantTerminateOnce, eventAttr(events[0], "invariant_name"))
	assert.Equal(t, "client.terminate", eventAttr(events[0], "where_detected"))
}

func TestInvariantViolationDisabledSkipsEmission(t *testing.T) {
	previous := Enabled()
	SetEnabled(false)
	t.Cleanup(func() {
		SetEnabled(previous)
	})

	recorder, restore := installTracerProvider()
	defer restore()

	ctx, span := otel.Tracer("test/invariants").Start(context.Background(), "operation")
	InvariantViolation(ctx, InvariantTerminateOnce, SeverityError, ViolationDetails{
		WhereDetected: "client.terminate",
	})
	span.End()

	events := spanEventsByName(recorder, "operation")
	require.Len(t, events, 0)
}

func TestPredefinedInvariantChecksEmitExpectedNames(t *testing.T) {
	previous := Enabled()
	SetEnabled(true)
	t.Cleanup(func() {
		SetEnabled(previous)
	})

	tests := []struct {
		name          string
		wantInvariant string
		run           func(ctx context.Context) bool
	}{
		{
			name:          "session_transition_legal",
			wantInvariant: InvariantSessionTransitionLegal,
			run: func(ctx context.Context) bool {
				return CheckSessionTransitionLegal(ctx, "session.store.transition", "terminated", "started", false)
			},
		},
		{
			name:          "terminate_once",
			wantInvariant: InvariantTerminateOnce,
			run: func(ctx context.Context) bool {
				return CheckTerminateOnce(ctx, "client.terminate", true, "NormalWon")
			},
		},
		{
			name:          "phase_polled",
			wantInvariant: InvariantPhasePolled,
			run: func(ctx context.Context) bool {
				return CheckPhasePolled(ctx, "client.awaitTurn", false)
			},
		},
		{
			name:          "unknown_phase_limit",
			wantInvariant: InvariantUnknownPhaseLimit,
			run: func(ctx context.Context) bool {
				return CheckUnknownPhaseLimit(ctx, "client.awaitTurn", 5, 5)
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			recorder, restore := installTracerProvider()
			defer restore()

			ctx, span := otel.Tracer("test/invariants").Start(context.Background(), "operation")
			assert.False(t, tt.run(ctx))
			span.End()

			events := spanEventsByName(recorder, "operation")
			require.Len(t, events, 1)
			assert.Equal(t, tt.wantInvariant, eventAttr(events[0], "invariant_name"))
		})
	}
}

func TestCheckTerminateOnceUsesWarnSeverity(t *testing.T) {
	previous := Enabled()
	SetEnabled(true)
	t.Cleanup(func() {
		SetEnabled(previous)
	})

	recorder, restore := installTracerProvider()
	defer restore()

	ctx, span := otel.Tracer("test/invariants").Start(context.Background(), "operation")
	assert.False(t, CheckTerminateOnce(ctx, "client.terminate", true, "NormalLost"))
	span.End()

	events := spanEventsByName(recorder, "operation")
	require.Len(t, events, 1)
	assert.Equal(t, SeverityWarn, eventAttr(events[0], "severity"))
	assert.Equal(t, "NormalLost", eventAttr(events[0], "context.previous_outcome"))
}

func TestChecksPassWithoutEmitting(t *testing.T) {
	recorder, restore := installTracerProvider()
	defer restore()

	ctx, span := otel.Tracer("test/invariants").Start(context.Background(), "operation")
	assert.True(t, CheckSessionTransitionLegal(ctx, "session.store.transition", "created", "started", true))
	assert.True(t, CheckTerminateOnce(ctx, "client.terminate", false, ""))
	assert.True(t, CheckPhasePolled(ctx, "client.awaitTurn", true))
	assert.True(t, CheckUnknownPhaseLimit(ctx, "client.awaitTurn", 2, 5))
	assert.True(t, CheckUnknownPhaseLimit(ctx, "client.awaitTurn", 99, 0))
	span.End()

	require.Len(t, spanEventsByName(recorder, "operation"), 0)
}

func installTracerProvider() (*tracetest.SpanRecorder, func()) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)

	return recorder, func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			otel.Handle(err)
		}
		otel.SetTracerProvider(previous)
	}
}

func spanEventsByName(recorder *tracetest.SpanRecorder, spanName string) []sdktrace.Event {
	for _, finished := range recorder.Ended() {
		if finished.Name() != spanName {
			continue
		}
		return finished.Events()
	}
	return nil
}

func eventAttr(event sdktrace.Event, key string) string {
	for _, attr := range event.Attributes {
		if string(attr.Key) != key {
			continue
		}
		return attr.Value.AsString()
	}
	return ""
}

package invariants

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InvariantSessionTransitionLegal requires session lifecycle transitions to follow the transition table.
	InvariantSessionTransitionLegal = "session_transition_legal"
	// InvariantTerminateOnce requires a session to record its termination exactly once.
	InvariantTerminateOnce = "terminate_once"
	// InvariantPhasePolled requires a successful poll to leave a polled phase in the reply bundle.
	InvariantPhasePolled = "phase_polled"
	// InvariantUnknownPhaseLimit requires consecutive unrecognized phases to stay within the configured limit.
	InvariantUnknownPhaseLimit = "unknown_phase_limit"
)

const (
	// SeverityWarn is used for non-fatal invariant violations.
	SeverityWarn = "warn"
	// SeverityError is used for fatal invariant violations.
	SeverityError = "error"
)

var invariantChecksEnabled atomic.Bool

func init() {
	invariantChecksEnabled.Store(true)
}

// ViolationDetails captures invariant violation context for telemetry events.
type ViolationDetails struct {
	WhatInvariant string
	WhereDetected string
	WhyViolated   string
	StackTrace    string
	Additional    map[string]string
}

// SetEnabled globally enables or disables invariant checks.
func SetEnabled(enabled bool) {
	invariantChecksEnabled.Store(enabled)
}

// Enabled reports whether invariant checks are currently enabled.
func Enabled() bool {
	return invariantChecksEnabled.Load()
}

// InvariantViolation emits an invariant.violation telemetry event on the active span.
// If the context has no active span, a short synthetic span is created for observability.
func InvariantViolation(
	ctx context.Context,
	invariantName string,
	severity string,
	details ViolationDetails,
) {
	if !Enabled() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	invariantName = strings.TrimSpace(invariantName)
	if invariantName == "" {
		invariantName = "unknown_invariant"
	}
	severity = normalizeSeverity(severity)

	attrs := []attribute.KeyValue{
		attribute.String("invariant_name", invariantName),
		attribute.String("severity", severity),
		attribute.String("what_invariant", strings.TrimSpace(details.WhatInvariant)),
		attribute.String("where_detected", strings.TrimSpace(details.WhereDetected)),
		attribute.String("why_violated", strings.TrimSpace(details.WhyViolated)),
	}
	if stack := strings.TrimSpace(details.StackTrace); stack != "" {
		attrs = append(attrs, attribute.String("stack_trace", stack))
	}

	if len(details.Additional) > 0 {
		keys := make([]string, 0, len(details.Additional))
		for key := range details.Additional {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := strings.TrimSpace(details.Additional[key])
			if value == "" {
				continue
			}
			attrs = append(attrs, attribute.String("context."+key, value))
		}
	}

	span := trace.SpanFromContext(ctx)
	if span != nil && span.SpanContext().IsValid() {
		span.AddEvent("invariant.violation", trace.WithAttributes(attrs...))
		return
	}

	_, temporarySpan := otel.Tracer("gameclient/invariants").Start(ctx, "invariant.violation")
	defer temporarySpan.End()
	temporarySpan.AddEvent("invariant.violation", trace.WithAttributes(attrs...))
}

// CheckSessionTransitionLegal validates the session_transition_legal invariant.
func CheckSessionTransitionLegal(ctx context.Context, whereDetected, fromState, toState string, legal bool) bool {
	if legal {
		return true
	}
	InvariantViolation(ctx, InvariantSessionTransitionLegal, SeverityError, ViolationDetails{
		WhatInvariant: "session lifecycle transition is legal",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("illegal session transition from=%s to=%s", fromState, toState),
		Additional: map[string]string{
			"from_state": strings.TrimSpace(fromState),
			"to_state":   strings.TrimSpace(toState),
		},
	})
	return false
}

// CheckTerminateOnce validates the terminate_once invariant.
func CheckTerminateOnce(ctx context.Context, whereDetected string, alreadyTerminated bool, previousOutcome string) bool {
	if !alreadyTerminated {
		return true
	}
	InvariantViolation(ctx, InvariantTerminateOnce, SeverityWarn, ViolationDetails{
		WhatInvariant: "session termination is recorded exactly once",
		WhereDetected: whereDetected,
		WhyViolated:   "terminate called on an already terminated session",
		Additional: map[string]string{
			"previous_outcome": previousOutcome,
		},
	})
	return false
}

// CheckPhasePolled validates the phase_polled invariant.
func CheckPhasePolled(ctx context.Context, whereDetected string, polled bool) bool {
	if polled {
		return true
	}
	InvariantViolation(ctx, InvariantPhasePolled, SeverityError, ViolationDetails{
		WhatInvariant: "successful poll fills the reply bundle phase",
		WhereDetected: whereDetected,
		WhyViolated:   "gateway returned without error but left the phase unpolled",
	})
	return false
}

// CheckUnknownPhaseLimit validates the unknown_phase_limit invariant.
func CheckUnknownPhaseLimit(ctx context.Context, whereDetected string, consecutive, limit int) bool {
	if limit <= 0 || consecutive < limit {
		return true
	}
	InvariantViolation(ctx, InvariantUnknownPhaseLimit, SeverityError, ViolationDetails{
		WhatInvariant: "consecutive unrecognized phases remain below the configured limit",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("consecutive=%d reached limit=%d", consecutive, limit),
		Additional: map[string]string{
			"consecutive": fmt.Sprintf("%d", consecutive),
			"limit":       fmt.Sprintf("%d", limit),
		},
	})
	return false
}

func normalizeSeverity(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case SeverityWarn:
		return SeverityWarn
	case SeverityError:
		return SeverityError
	default:
		return SeverityError
	}
}

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/halfmap/gameclient/internal/events"
	"github.com/halfmap/gameclient/internal/game"
	"github.com/halfmap/gameclient/internal/session"
	"github.com/halfmap/gameclient/internal/telemetry/invariants"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultUnknownPhaseLimit is the number of consecutive unrecognized polls
// tolerated before the session ends as a server failure.
const DefaultUnknownPhaseLimit = 5

// Gateway is the network boundary to the game authority.
type Gateway interface {
	// RegisterPlayer reports whether the authority accepted the player.
	RegisterPlayer(ctx context.Context) (bool, error)
	RegisterHalfMap(ctx context.Context, halfMap game.HalfMap) error
	// RequestPhase fills bundle with the current phase and, when the
	// authority sends one, the full map.
	RequestPhase(ctx context.Context, bundle *game.ReplyBundle) error
	SubmitMove(ctx context.Context, move game.Move) error
}

// DecisionEngine chooses the next move from the current map.
type DecisionEngine interface {
	DecideNextMove(ctx context.Context, gameMap game.Map) (game.Move, error)
}

// Pacer spaces consecutive requests to the authority.
type Pacer interface {
	Wait(ctx context.Context) error
	Reset()
}

// EventPublisher receives session progress events.
type EventPublisher interface {
	Publish(event events.Event)
}

// Config configures one session.
type Config struct {
	GameID  string
	HalfMap game.HalfMap
	// UnknownPhaseLimit <= 0 retries unrecognized phases without bound.
	UnknownPhaseLimit int
}

// Option customizes client construction.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer overrides the tracer used for poll and turn spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// Client drives one session from registration to termination. A Client
// is not safe for concurrent use and runs once.
type Client struct {
	gateway           Gateway
	engine            DecisionEngine
	store             *session.Store
	pacer             Pacer
	events            EventPublisher
	logger            *log.Logger
	tracer            trace.Tracer
	gameID            string
	halfMap           game.HalfMap
	unknownPhaseLimit int

	bundle      game.ReplyBundle
	turn        int
	termination *Termination
}

// New creates a Client with required dependencies.
func New(
	gateway Gateway,
	engine DecisionEngine,
	store *session.Store,
	pacer Pacer,
	publisher EventPublisher,
	cfg Config,
	options ...Option,
) (*Client, error) {
	if gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if engine == nil {
		return nil, errors.New("decision engine is required")
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if pacer == nil {
		return nil, errors.New("pacer is required")
	}
	if publisher == nil {
		return nil, errors.New("event publisher is required")
	}

	c := &Client{
		gateway:           gateway,
		engine:            engine,
		store:             store,
		pacer:             pacer,
		events:            publisher,
		logger:            log.New(io.Discard),
		tracer:            otel.Tracer("gameclient/client"),
		gameID:            strings.TrimSpace(cfg.GameID),
		halfMap:           cfg.HalfMap,
		unknownPhaseLimit: cfg.UnknownPhaseLimit,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(c)
	}
	return c, nil
}

// Run registers, plays until the authority reports a terminal phase or a
// fatal error occurs, and returns the single termination record.
func (c *Client) Run(ctx context.Context) Termination {
	if c.termination != nil {
		return *c.termination
	}

	err := c.initGame(ctx)
	if err == nil {
		err = c.play(ctx)
	}
	return c.conclude(ctx, err)
}

func (c *Client) initGame(ctx context.Context) error {
	accepted, err := c.gateway.RegisterPlayer(ctx)
	switch {
	case err != nil:
		if handled := c.handle(ctx, newError(KindRegistration, "registration", err)); handled != nil {
			return handled
		}
	case accepted:
		if err := c.store.MarkRegistered(ctx); err != nil {
			return err
		}
		c.logger.Info("player registered")
		c.publish(events.Event{Type: events.EventTypeRegistration, Message: "player registered"})
	default:
		c.logger.Warn("player registration was not accepted")
	}

	if err := c.pace(ctx); err != nil {
		return err
	}
	if err := c.awaitTurn(ctx); err != nil {
		return err
	}

	if err := c.gateway.RegisterHalfMap(ctx, c.halfMap); err != nil {
		return c.handle(ctx, newError(KindHalfMap, "half map registration", err))
	}
	c.logger.Info("half map registered", "nodes", len(c.halfMap.Nodes))
	c.publish(events.Event{Type: events.EventTypeRegistration, Message: "half map registered"})
	return nil
}

func (c *Client) play(ctx context.Context) error {
	if err := c.store.MarkStarted(ctx); err != nil {
		return err
	}
	c.logger.Info("game started")

	for {
		if err := c.awaitTurn(ctx); err != nil {
			return err
		}
		if err := c.takeTurn(ctx); err != nil {
			return err
		}
		if err := c.pace(ctx); err != nil {
			return err
		}
	}
}

// awaitTurn polls until the authority asks for an action. A terminal phase
// ends the session and comes back as a *Termination.
func (c *Client) awaitTurn(ctx context.Context) error {
	unrecognized := 0
	for {
		if err := c.poll(ctx); err != nil {
			return c.handle(ctx, err)
		}

		phase := c.bundle.Phase
		switch phase {
		case game.PhaseMustWait:
			unrecognized = 0
		case game.PhaseMustAct:
			c.pacer.Reset()
			return c.pace(ctx)
		case game.PhaseWon, game.PhaseLost:
			// The authority's verdict stands even if the last pause is cut short.
			if err := c.pacer.Wait(ctx); err != nil {
				c.logger.Warn("pacing before termination interrupted", "err", err)
			}
			return c.finishGame(ctx, phase)
		default:
			// PhaseNotPolled, PhaseUnrecognized and anything out of range.
			unrecognized++
			if err := c.unrecognizedPhase(ctx, unrecognized); err != nil {
				return err
			}
		}

		if err := c.pace(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) poll(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "client.poll", trace.WithAttributes(attribute.Int("turn", c.turn)))
	defer span.End()

	c.bundle.Reset()
	if err := c.gateway.RequestPhase(ctx, &c.bundle); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// A poll cut short by cancellation is not the server's fault.
		if ctx.Err() != nil {
			return newError(KindInterrupted, "poll", err)
		}
		return newError(KindNetwork, "poll", err)
	}

	phase := c.bundle.Phase
	invariants.CheckPhasePolled(ctx, "client.poll", phase != game.PhaseNotPolled)
	span.SetAttributes(attribute.String("phase", phase.String()))
	span.SetStatus(codes.Ok, "")

	c.logger.Debug("phase polled", "phase", phase, "turn", c.turn)
	c.publish(events.Event{Type: events.EventTypePhaseObserved, Message: phase.String(), Payload: phase})
	return nil
}

func (c *Client) unrecognizedPhase(ctx context.Context, consecutive int) error {
	c.logger.Error(
		"authority reported an unrecognized phase",
		"phase", c.bundle.Phase,
		"raw_phase", c.bundle.RawPhase,
		"consecutive", consecutive,
		"limit", c.unknownPhaseLimit,
	)
	if invariants.CheckUnknownPhaseLimit(ctx, "client.awaitTurn", consecutive, c.unknownPhaseLimit) {
		return nil
	}
	err := fmt.Errorf("%d consecutive unrecognized phases, last %q", consecutive, c.bundle.RawPhase)
	return c.handle(ctx, newError(KindUnknownPhase, "phase check", err))
}

func (c *Client) takeTurn(ctx context.Context) error {
	c.turn++
	ctx, span := c.tracer.Start(ctx, "client.turn", trace.WithAttributes(attribute.Int("turn", c.turn)))
	defer span.End()

	c.store.SetMap(c.bundle.Map)
	move, err := c.engine.DecideNextMove(ctx, c.store.Map())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return c.handle(ctx, newError(KindMovement, "move decision", err))
	}
	span.SetAttributes(attribute.String("move", string(move)))

	if err := c.gateway.SubmitMove(ctx, move); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.publish(events.Event{
			Type:     events.EventTypeMoveRejected,
			Message:  err.Error(),
			Payload:  move,
			Severity: events.SeverityWarn,
		})
		return c.handle(ctx, newError(KindSend, "move submission", err))
	}

	span.SetStatus(codes.Ok, "")
	c.logger.Info("move submitted", "move", move, "turn", c.turn)
	c.publish(events.Event{Type: events.EventTypeMoveSubmitted, Message: string(move), Payload: move})
	return nil
}

func (c *Client) pace(ctx context.Context) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return c.handle(ctx, newError(KindPacingInterrupted, "pacing", err))
	}
	return nil
}

func (c *Client) finishGame(ctx context.Context, phase game.Phase) error {
	if phase == game.PhaseWon {
		c.logger.Info("game finished", "result", "won", "turns", c.turn)
		return c.terminate(ctx, "Player won", session.OutcomeNormalWon)
	}
	c.logger.Info("game finished", "result", "lost", "turns", c.turn)
	return c.terminate(ctx, "Player lost", session.OutcomeNormalLost)
}

// handle applies the policy for err's kind. It returns nil when the error
// is swallowed, a *Termination when the session ended, or err itself when
// the error propagates to Run.
func (c *Client) handle(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var term *Termination
	if errors.As(err, &term) {
		return term
	}

	kind := KindOf(err)
	policy := PolicyFor(kind)
	switch policy.Action {
	case ActionSwallow:
		c.logger.Warn("recoverable session error", "kind", kind, "err", err)
		return nil
	case ActionTerminate:
		c.logger.Error("fatal session error", "kind", kind, "err", err)
		return c.terminate(ctx, err.Error(), policy.Outcome)
	default:
		return err
	}
}

// conclude turns whatever unwound the loops into the termination record.
func (c *Client) conclude(ctx context.Context, err error) Termination {
	var term *Termination
	if errors.As(err, &term) {
		return *term
	}
	if err == nil {
		err = errors.New("session loop ended without a terminal phase")
	}

	kind := KindOf(err)
	policy := PolicyFor(kind)
	c.logger.Error("uncaught session error", "kind", kind, "err", err)
	outcome := policy.Outcome
	if outcome == session.OutcomeNone {
		outcome = session.OutcomeGeneralFailure
	}
	return *c.terminate(ctx, err.Error(), outcome)
}

// terminate records the outcome exactly once. Later calls keep the first
// record and return it.
func (c *Client) terminate(ctx context.Context, description string, outcome session.Outcome) *Termination {
	if !invariants.CheckTerminateOnce(ctx, "client.terminate", c.termination != nil, previousOutcome(c.termination)) {
		c.logger.Warn(
			"session already terminated",
			"outcome", c.termination.Outcome,
			"ignored_outcome", outcome,
			"ignored_description", description,
		)
		return c.termination
	}

	if err := c.store.Terminate(ctx, description, outcome); err != nil {
		c.logger.Error("record termination", "err", err)
	}
	term := &Termination{Outcome: outcome, Description: description}
	c.termination = term

	c.logger.Info("game terminated", "description", description, "outcome", outcome)
	severity := events.SeverityInfo
	if !outcome.Normal() {
		severity = events.SeverityError
	}
	c.publish(events.Event{
		Type:     events.EventTypeSessionTerminated,
		Message:  description,
		Payload:  outcome,
		Severity: severity,
	})
	return term
}

func (c *Client) publish(event events.Event) {
	event.GameID = c.gameID
	event.Turn = c.turn
	c.events.Publish(event)
}

func previousOutcome(term *Termination) string {
	if term == nil {
		return ""
	}
	return string(term.Outcome)
}

// Package network talks to the game authority over HTTP and JSON.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/halfmap/gameclient/internal/game"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultRequestTimeout bounds one request when no timeout is configured.
	DefaultRequestTimeout = 5 * time.Second
	// RequestIDHeader carries the per-request correlation id.
	RequestIDHeader = "X-Request-ID"

	maxResponseBytes = 1 << 20
)

var (
	// ErrNotRegistered is returned by calls that need a player id before one was assigned.
	ErrNotRegistered = errors.New("player is not registered")
	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected http status")
)

// ServerError is an Error envelope returned by the authority.
type ServerError struct {
	Name    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server rejected request: %s", e.Name)
	}
	return fmt.Sprintf("server rejected request: %s: %s", e.Name, e.Message)
}

// Player identifies the client towards the authority.
type Player struct {
	FirstName string
	LastName  string
	Account   string
}

// Option customizes gateway construction.
type Option func(*Gateway)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		if client != nil {
			g.client = client
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *log.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTracer overrides the tracer used for request spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(g *Gateway) {
		if tracer != nil {
			g.tracer = tracer
		}
	}
}

// Gateway is the HTTP client for one game. It keeps the player id assigned
// at registration and is not safe for concurrent use.
type Gateway struct {
	baseURL  *url.URL
	gameID   string
	player   Player
	playerID string

	client  *http.Client
	timeout time.Duration
	logger  *log.Logger
	tracer  trace.Tracer
}

// New creates a gateway for gameID on the authority at baseURL.
func New(baseURL, gameID string, player Player, options ...Option) (*Gateway, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse server base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("server base url %q must use http or https", baseURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("server base url %q has no host", baseURL)
	}
	// JoinPath keeps a relative path when the base has none.
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, errors.New("game id is required")
	}

	gateway := &Gateway{
		baseURL: parsed,
		gameID:  gameID,
		player:  player,
		client:  http.DefaultClient,
		timeout: DefaultRequestTimeout,
		logger:  log.New(io.Discard),
		tracer:  otel.Tracer("gameclient/network"),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(gateway)
	}
	return gateway, nil
}

// PlayerID returns the id assigned at registration, or "" before that.
func (g *Gateway) PlayerID() string {
	return g.playerID
}

// RegisterPlayer registers the configured player. It reports false without
// an error when the authority answers Okay but assigns no player id.
func (g *Gateway) RegisterPlayer(ctx context.Context) (bool, error) {
	var data registrationData
	body := playerRegistration{
		FirstName: g.player.FirstName,
		LastName:  g.player.LastName,
		Account:   g.player.Account,
	}
	if err := g.do(ctx, "register player", http.MethodPost, body, &data, "games", g.gameID, "players"); err != nil {
		return false, err
	}

	playerID := strings.TrimSpace(data.PlayerID)
	if playerID == "" {
		return false, nil
	}
	g.playerID = playerID
	g.logger.Info("player id assigned", "player_id", playerID)
	return true, nil
}

// RegisterHalfMap sends the player's half of the map.
func (g *Gateway) RegisterHalfMap(ctx context.Context, halfMap game.HalfMap) error {
	if g.playerID == "" {
		return fmt.Errorf("register half map: %w", ErrNotRegistered)
	}
	body := halfMapRequest{PlayerID: g.playerID, Nodes: encodeNodes(halfMap.Nodes)}
	return g.do(ctx, "register half map", http.MethodPost, body, nil, "games", g.gameID, "halfmaps")
}

// RequestPhase fills bundle with the current phase and the map when the
// authority includes one. On error the bundle is left untouched.
func (g *Gateway) RequestPhase(ctx context.Context, bundle *game.ReplyBundle) error {
	if bundle == nil {
		return errors.New("reply bundle is required")
	}
	if g.playerID == "" {
		return fmt.Errorf("request phase: %w", ErrNotRegistered)
	}

	var data stateData
	if err := g.do(ctx, "request phase", http.MethodGet, nil, &data, "games", g.gameID, "states", g.playerID); err != nil {
		return err
	}

	var gameMap game.Map
	if data.Map != nil {
		decoded, err := decodeMap(data.Map)
		if err != nil {
			return fmt.Errorf("request phase: decode map: %w", err)
		}
		gameMap = decoded
	}

	bundle.RawPhase = data.State
	bundle.Phase = game.ParsePhase(data.State)
	if data.Map != nil {
		bundle.Map = gameMap
	}
	return nil
}

// SubmitMove sends one move.
func (g *Gateway) SubmitMove(ctx context.Context, move game.Move) error {
	if g.playerID == "" {
		return fmt.Errorf("submit move: %w", ErrNotRegistered)
	}
	body := moveRequest{PlayerID: g.playerID, Move: string(move)}
	return g.do(ctx, "submit move", http.MethodPost, body, nil, "games", g.gameID, "moves")
}

func (g *Gateway) do(ctx context.Context, op, method string, body, out any, segments ...string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	endpoint := g.endpoint(segments...)
	requestID := uuid.NewString()
	ctx, span := g.tracer.Start(
		ctx,
		"network.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("operation", op),
			attribute.String("http.request.method", method),
			attribute.String("url.path", endpoint.EscapedPath()),
			attribute.String("request_id", requestID),
		),
	)
	defer span.End()

	started := time.Now()
	status, err := g.roundTrip(ctx, method, endpoint, requestID, body, out)
	if status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Debug("request failed", "op", op, "request_id", requestID, "status", status, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	span.SetStatus(codes.Ok, "")
	g.logger.Debug("request completed", "op", op, "request_id", requestID, "status", status, "elapsed", time.Since(started))
	return nil
}

func (g *Gateway) roundTrip(ctx context.Context, method string, endpoint *url.URL, requestID string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&env); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	switch env.State {
	case stateOkay:
	case stateError:
		return resp.StatusCode, &ServerError{Name: env.ExceptionName, Message: env.ExceptionMessage}
	default:
		return resp.StatusCode, fmt.Errorf("unknown response state %q", env.State)
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response data: %w", err)
	}
	return resp.StatusCode, nil
}

func (g *Gateway) endpoint(segments ...string) *url.URL {
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return g.baseURL.JoinPath(escaped...)
}

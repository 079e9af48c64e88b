// Package engine holds the built-in move decision strategy.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/halfmap/gameclient/internal/game"
)

var (
	// ErrPositionUnknown is returned when the map does not mark the player's field.
	ErrPositionUnknown = errors.New("player position unknown")
	// ErrNoLegalMove is returned when every neighbour is water or off the map.
	ErrNoLegalMove = errors.New("no legal move")
)

// clockwise is the rotation order used when the current heading is blocked.
var clockwise = []game.Move{game.MoveRight, game.MoveDown, game.MoveLeft, game.MoveUp}

// Sweep walks in one heading for as long as the next field is walkable and
// turns clockwise when it is not. Water and fields outside the known map
// are never entered.
type Sweep struct {
	heading int
}

// NewSweep returns a sweep heading right.
func NewSweep() *Sweep {
	return &Sweep{}
}

// DecideNextMove picks the next move from the player's current field.
func (s *Sweep) DecideNextMove(ctx context.Context, gameMap game.Map) (game.Move, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	position, ok := gameMap.PlayerPosition()
	if !ok {
		return "", ErrPositionUnknown
	}

	for offset := range len(clockwise) {
		index := (s.heading + offset) % len(clockwise)
		move := clockwise[index]
		if !walkable(gameMap, position, move) {
			continue
		}
		s.heading = index
		return move, nil
	}
	return "", fmt.Errorf("%w from (%d,%d)", ErrNoLegalMove, position.X, position.Y)
}

// Heading returns the move the sweep tries first on its next decision.
func (s *Sweep) Heading() game.Move {
	return clockwise[s.heading]
}

func walkable(gameMap game.Map, from game.Node, move game.Move) bool {
	dx, dy := move.Delta()
	next, ok := gameMap.At(from.X+dx, from.Y+dy)
	return ok && next.Terrain != game.TerrainWater
}

package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/halfmap/gameclient/internal/game"
)

// grid builds a map from rows of terrain letters: G grass, M mountain,
// W water, P the player on grass.
func grid(rows ...string) game.Map {
	var nodes []game.Node
	for y, row := range rows {
		for x, cell := range row {
			node := game.Node{X: x, Y: y, Terrain: game.TerrainGrass}
			switch cell {
			case 'M':
				node.Terrain = game.TerrainMountain
			case 'W':
				node.Terrain = game.TerrainWater
			case 'P':
				node.PlayerHere = true
			}
			nodes = append(nodes, node)
		}
	}
	return game.Map{Nodes: nodes}
}

func TestSweepKeepsHeadingWhileWalkable(t *testing.T) {
	sweep := NewSweep()
	gameMap := grid(
		"PGG",
		"GGG",
	)

	move, err := sweep.DecideNextMove(context.Background(), gameMap)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if move != game.MoveRight {
		t.Fatalf("move = %s, want Right", move)
	}
	if sweep.Heading() != game.MoveRight {
		t.Fatalf("heading = %s, want Right", sweep.Heading())
	}
}

func TestSweepTurnsClockwiseAtEdgesAndWater(t *testing.T) {
	tests := []struct {
		name string
		rows []string
		want game.Move
	}{
		{name: "right edge", rows: []string{"GP", "GG"}, want: game.MoveDown},
		{name: "water right", rows: []string{"PW", "GG"}, want: game.MoveDown},
		{name: "mountain is walkable", rows: []string{"PM", "GG"}, want: game.MoveRight},
		{name: "bottom right corner", rows: []string{"GG", "GP"}, want: game.MoveLeft},
		{name: "only up", rows: []string{"G", "P"}, want: game.MoveUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			move, err := NewSweep().DecideNextMove(context.Background(), grid(tt.rows...))
			if err != nil {
				t.Fatalf("decide: %v", err)
			}
			if move != tt.want {
				t.Fatalf("move = %s, want %s", move, tt.want)
			}
		})
	}
}

func TestSweepRemembersTurn(t *testing.T) {
	sweep := NewSweep()

	move, err := sweep.DecideNextMove(context.Background(), grid("GP", "GG"))
	if err != nil || move != game.MoveDown {
		t.Fatalf("first move = %s, %v; want Down", move, err)
	}

	// Right is open again but the sweep continues downwards.
	move, err = sweep.DecideNextMove(context.Background(), grid("PGG", "GGG"))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if move != game.MoveDown {
		t.Fatalf("second move = %s, want Down", move)
	}
}

func TestSweepErrors(t *testing.T) {
	if _, err := NewSweep().DecideNextMove(context.Background(), grid("GG")); !errors.Is(err, ErrPositionUnknown) {
		t.Fatalf("error = %v, want ErrPositionUnknown", err)
	}
	if _, err := NewSweep().DecideNextMove(context.Background(), game.Map{}); !errors.Is(err, ErrPositionUnknown) {
		t.Fatalf("empty map error = %v, want ErrPositionUnknown", err)
	}
	if _, err := NewSweep().DecideNextMove(context.Background(), grid("WWW", "WPW", "WWW")); !errors.Is(err, ErrNoLegalMove) {
		t.Fatalf("surrounded error = %v, want ErrNoLegalMove", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSweep().DecideNextMove(ctx, grid("PG")); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled error = %v, want context.Canceled", err)
	}
}

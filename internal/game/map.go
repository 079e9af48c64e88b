package game

import (
	"fmt"
	"strings"
)

// Terrain is the ground type of one map field.
type Terrain string

const (
	TerrainGrass    Terrain = "Grass"
	TerrainMountain Terrain = "Mountain"
	TerrainWater    Terrain = "Water"
)

// ParseTerrain maps a wire value onto a Terrain.
func ParseTerrain(value string) (Terrain, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "grass":
		return TerrainGrass, nil
	case "mountain":
		return TerrainMountain, nil
	case "water":
		return TerrainWater, nil
	default:
		return "", fmt.Errorf("unknown terrain %q", value)
	}
}

// Move is one step submitted to the authority.
type Move string

const (
	MoveUp    Move = "Up"
	MoveRight Move = "Right"
	MoveDown  Move = "Down"
	MoveLeft  Move = "Left"
)

// Delta returns the coordinate offset of a move.
func (m Move) Delta() (int, int) {
	switch m {
	case MoveUp:
		return 0, -1
	case MoveRight:
		return 1, 0
	case MoveDown:
		return 0, 1
	case MoveLeft:
		return -1, 0
	default:
		return 0, 0
	}
}

// Node is one field of the map.
type Node struct {
	X       int
	Y       int
	Terrain Terrain
	Fort    bool
	// PlayerHere marks the field this client's player stands on.
	PlayerHere bool
}

// Map is a snapshot of the known game map.
type Map struct {
	Nodes []Node
}

// Empty reports whether the map has no fields.
func (m Map) Empty() bool {
	return len(m.Nodes) == 0
}

// Clone returns a copy that shares no memory with m.
func (m Map) Clone() Map {
	if m.Nodes == nil {
		return Map{}
	}
	nodes := make([]Node, len(m.Nodes))
	copy(nodes, m.Nodes)
	return Map{Nodes: nodes}
}

// At returns the node at x,y.
func (m Map) At(x, y int) (Node, bool) {
	for _, node := range m.Nodes {
		if node.X == x && node.Y == y {
			return node, true
		}
	}
	return Node{}, false
}

// PlayerPosition returns the node the player stands on.
func (m Map) PlayerPosition() (Node, bool) {
	for _, node := range m.Nodes {
		if node.PlayerHere {
			return node, true
		}
	}
	return Node{}, false
}

// HalfMap is the portion of the map contributed by one player during registration.
type HalfMap struct {
	Nodes []Node
}

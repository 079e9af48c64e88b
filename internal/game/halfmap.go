package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

const (
	HalfMapWidth  = 8
	HalfMapHeight = 4

	minWater    = 4
	minMountain = 3
	minGrass    = 15

	maxGenerateAttempts = 200
)

// ErrHalfMapGeneration is returned when no valid half map was produced.
var ErrHalfMapGeneration = errors.New("half map generation exhausted attempts")

// GenerateHalfMap builds a random half map that satisfies ValidateHalfMap.
func GenerateHalfMap(rng *rand.Rand) (HalfMap, error) {
	if rng == nil {
		return HalfMap{}, errors.New("random source is required")
	}
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		candidate := randomHalfMap(rng)
		if err := ValidateHalfMap(candidate); err == nil {
			return candidate, nil
		}
	}
	return HalfMap{}, ErrHalfMapGeneration
}

func randomHalfMap(rng *rand.Rand) HalfMap {
	total := HalfMapWidth * HalfMapHeight
	terrains := make([]Terrain, total)
	for i := range terrains {
		terrains[i] = TerrainGrass
	}

	water := minWater + rng.IntN(3)
	mountains := minMountain + rng.IntN(3)
	order := rng.Perm(total)
	for i := 0; i < water; i++ {
		terrains[order[i]] = TerrainWater
	}
	for i := water; i < water+mountains; i++ {
		terrains[order[i]] = TerrainMountain
	}
	fortIndex := order[water+mountains]

	nodes := make([]Node, 0, total)
	for i, terrain := range terrains {
		nodes = append(nodes, Node{
			X:       i % HalfMapWidth,
			Y:       i / HalfMapWidth,
			Terrain: terrain,
			Fort:    i == fortIndex,
		})
	}
	return HalfMap{Nodes: nodes}
}

// ValidateHalfMap checks terrain counts, fort placement, edge water and
// that every land field is reachable from every other.
func ValidateHalfMap(halfMap HalfMap) error {
	if len(halfMap.Nodes) != HalfMapWidth*HalfMapHeight {
		return fmt.Errorf("half map has %d fields, want %d", len(halfMap.Nodes), HalfMapWidth*HalfMapHeight)
	}

	counts := map[Terrain]int{}
	forts := 0
	grid := make(map[[2]int]Node, len(halfMap.Nodes))
	for _, node := range halfMap.Nodes {
		if node.X < 0 || node.X >= HalfMapWidth || node.Y < 0 || node.Y >= HalfMapHeight {
			return fmt.Errorf("field %d,%d out of bounds", node.X, node.Y)
		}
		key := [2]int{node.X, node.Y}
		if _, dup := grid[key]; dup {
			return fmt.Errorf("duplicate field %d,%d", node.X, node.Y)
		}
		grid[key] = node
		counts[node.Terrain]++
		if node.Fort {
			forts++
			if node.Terrain != TerrainGrass {
				return fmt.Errorf("fort at %d,%d must be on grass", node.X, node.Y)
			}
		}
	}

	if forts != 1 {
		return fmt.Errorf("half map has %d forts, want 1", forts)
	}
	if counts[TerrainWater] < minWater {
		return fmt.Errorf("half map has %d water fields, want at least %d", counts[TerrainWater], minWater)
	}
	if counts[TerrainMountain] < minMountain {
		return fmt.Errorf("half map has %d mountain fields, want at least %d", counts[TerrainMountain], minMountain)
	}
	if counts[TerrainGrass] < minGrass {
		return fmt.Errorf("half map has %d grass fields, want at least %d", counts[TerrainGrass], minGrass)
	}
	if err := validateEdgeWater(grid); err != nil {
		return err
	}
	return validateConnected(grid)
}

func validateEdgeWater(grid map[[2]int]Node) error {
	top, bottom, left, right := 0, 0, 0, 0
	for _, node := range grid {
		if node.Terrain != TerrainWater {
			continue
		}
		if node.Y == 0 {
			top++
		}
		if node.Y == HalfMapHeight-1 {
			bottom++
		}
		if node.X == 0 {
			left++
		}
		if node.X == HalfMapWidth-1 {
			right++
		}
	}
	if top*2 >= HalfMapWidth || bottom*2 >= HalfMapWidth {
		return errors.New("too much water on a long edge")
	}
	if left*2 >= HalfMapHeight || right*2 >= HalfMapHeight {
		return errors.New("too much water on a short edge")
	}
	return nil
}

func validateConnected(grid map[[2]int]Node) error {
	var start [2]int
	land := 0
	for key, node := range grid {
		if node.Terrain != TerrainWater {
			start = key
			land++
		}
	}
	if land == 0 {
		return errors.New("half map has no land")
	}

	seen := map[[2]int]struct{}{start: {}}
	queue := [][2]int{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, move := range []Move{MoveUp, MoveRight, MoveDown, MoveLeft} {
			dx, dy := move.Delta()
			next := [2]int{current[0] + dx, current[1] + dy}
			node, ok := grid[next]
			if !ok || node.Terrain == TerrainWater {
				continue
			}
			if _, visited := seen[next]; visited {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	if len(seen) != land {
		return fmt.Errorf("half map has %d unreachable land fields", land-len(seen))
	}
	return nil
}

package network

import (
	"encoding/json"
	"fmt"

	"github.com/halfmap/gameclient/internal/game"
)

const (
	stateOkay  = "Okay"
	stateError = "Error"
)

// envelope wraps every authority response.
type envelope struct {
	State            string          `json:"state"`
	ExceptionName    string          `json:"exceptionName,omitempty"`
	ExceptionMessage string          `json:"exceptionMessage,omitempty"`
	Data             json.RawMessage `json:"data,omitempty"`
}

type playerRegistration struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Account   string `json:"account"`
}

type registrationData struct {
	PlayerID string `json:"playerID"`
}

type wireNode struct {
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Terrain    string `json:"terrain"`
	Fort       bool   `json:"fort,omitempty"`
	PlayerHere bool   `json:"playerHere,omitempty"`
}

type halfMapRequest struct {
	PlayerID string     `json:"playerID"`
	Nodes    []wireNode `json:"nodes"`
}

type stateData struct {
	State string   `json:"state"`
	Map   *mapData `json:"map,omitempty"`
}

type mapData struct {
	Nodes []wireNode `json:"nodes"`
}

type moveRequest struct {
	PlayerID string `json:"playerID"`
	Move     string `json:"move"`
}

func encodeNodes(nodes []game.Node) []wireNode {
	encoded := make([]wireNode, 0, len(nodes))
	for _, node := range nodes {
		encoded = append(encoded, wireNode{
			X:          node.X,
			Y:          node.Y,
			Terrain:    string(node.Terrain),
			Fort:       node.Fort,
			PlayerHere: node.PlayerHere,
		})
	}
	return encoded
}

func decodeMap(data *mapData) (game.Map, error) {
	nodes := make([]game.Node, 0, len(data.Nodes))
	for _, node := range data.Nodes {
		terrain, err := game.ParseTerrain(node.Terrain)
		if err != nil {
			return game.Map{}, fmt.Errorf("node (%d,%d): %w", node.X, node.Y, err)
		}
		nodes = append(nodes, game.Node{
			X:          node.X,
			Y:          node.Y,
			Terrain:    terrain,
			Fort:       node.Fort,
			PlayerHere: node.PlayerHere,
		})
	}
	return game.Map{Nodes: nodes}, nil
}

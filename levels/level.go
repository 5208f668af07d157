// Package levels loads authored labyrinth layouts and turns them into
// navigation graphs.
package levels

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/milk9111/labyrinth/common"
	"github.com/milk9111/labyrinth/nav"
)

//go:embed *.yaml
var LevelsFS embed.FS

// OverrideDir is checked before the embedded levels.
var OverrideDir = "levels"

var ErrUnknownNode = errors.New("levels: unknown node")

type Level struct {
	Name        string           `yaml:"name"`
	Nodes       []NodeSpec       `yaml:"nodes"`
	Connections []ConnectionSpec `yaml:"connections"`
	Player      Placement        `yaml:"player"`
	Spawns      []Spawn          `yaml:"spawns,omitempty"`
}

type NodeSpec struct {
	Name     string      `yaml:"name"`
	Position common.Vec3 `yaml:"position"`
}

// ConnectionSpec is a corridor between two nodes. Cost defaults to the
// straight-line length; Blocked corridors exist but cannot be traversed.
type ConnectionSpec struct {
	From    string   `yaml:"from"`
	To      string   `yaml:"to"`
	Cost    *float64 `yaml:"cost,omitempty"`
	OneWay  bool     `yaml:"oneway,omitempty"`
	Blocked bool     `yaml:"blocked,omitempty"`
}

// Placement puts something at a named node or an explicit position.
type Placement struct {
	Node     string       `yaml:"node,omitempty"`
	Position *common.Vec3 `yaml:"position,omitempty"`
}

type Spawn struct {
	Name     string       `yaml:"name,omitempty"`
	Prefab   string       `yaml:"prefab"`
	Node     string       `yaml:"node,omitempty"`
	Position *common.Vec3 `yaml:"position,omitempty"`
	Patrol   []string     `yaml:"patrol,omitempty"`
}

func (s Spawn) Placement() Placement {
	return Placement{Node: s.Node, Position: s.Position}
}

// Load reads a level by file name, preferring a copy under OverrideDir.
func Load(name string) (*Level, error) {
	data, err := os.ReadFile(filepath.Join(OverrideDir, name))
	if err != nil {
		data, err = fs.ReadFile(LevelsFS, name)
		if err != nil {
			return nil, fmt.Errorf("levels: read %s: %w", name, err)
		}
	}
	lvl, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("levels: %s: %w", name, err)
	}
	return lvl, nil
}

func Parse(data []byte) (*Level, error) {
	var lvl Level
	if err := yaml.Unmarshal(data, &lvl); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if len(lvl.Nodes) == 0 {
		return nil, fmt.Errorf("no nodes")
	}
	return &lvl, nil
}

func (l *Level) Marshal() ([]byte, error) {
	return yaml.Marshal(l)
}

// Names lists the embedded levels.
func Names() []string {
	matches, _ := fs.Glob(LevelsFS, "*.yaml")
	return matches
}

// BuildGraph freezes the level's nodes and corridors into a nav.Graph.
func (l *Level) BuildGraph() (*nav.Graph, error) {
	b := nav.NewBuilder()
	for _, n := range l.Nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("levels: node at %+v has no name", n.Position)
		}
		if _, err := b.AddNode(n.Name, n.Position); err != nil {
			return nil, err
		}
	}
	index := make(map[string]nav.NodeID, len(l.Nodes))
	for i, n := range l.Nodes {
		index[n.Name] = nav.NodeID(i)
	}

	for _, c := range l.Connections {
		from, ok := index[c.From]
		if !ok {
			return nil, fmt.Errorf("%w %q in connection", ErrUnknownNode, c.From)
		}
		to, ok := index[c.To]
		if !ok {
			return nil, fmt.Errorf("%w %q in connection", ErrUnknownNode, c.To)
		}
		cost := l.Nodes[from].Position.Distance(l.Nodes[to].Position)
		if c.Cost != nil {
			cost = *c.Cost
		}
		if c.Blocked {
			cost = math.Inf(1)
		}
		connect := b.ConnectBoth
		if c.OneWay {
			connect = b.Connect
		}
		if err := connect(from, to, cost); err != nil {
			return nil, fmt.Errorf("levels: connection %s->%s: %w", c.From, c.To, err)
		}
	}
	return b.Build()
}

// Locate resolves a placement against g. Named nodes win over positions.
func Locate(g *nav.Graph, p Placement) (common.Vec3, error) {
	if p.Node != "" {
		id, ok := g.Lookup(p.Node)
		if !ok {
			return common.Vec3{}, fmt.Errorf("%w %q", ErrUnknownNode, p.Node)
		}
		return g.Position(id)
	}
	if p.Position != nil {
		return *p.Position, nil
	}
	return common.Vec3{}, fmt.Errorf("levels: placement has neither node nor position")
}

// Route resolves node names to handles.
func Route(g *nav.Graph, names []string) ([]nav.NodeID, error) {
	out := make([]nav.NodeID, 0, len(names))
	for _, name := range names {
		id, ok := g.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w %q in route", ErrUnknownNode, name)
		}
		out = append(out, id)
	}
	return out, nil
}

package main

import (
	"fmt"

	"github.com/ojrac/opensimplex-go"

	"github.com/milk9111/labyrinth/common"
	"github.com/milk9111/labyrinth/levels"
)

type genConfig struct {
	Name    string
	Rows    int
	Cols    int
	Spacing float64
	Seed    int64
	// Roughness scales how much terrain noise adds to a corridor's length.
	Roughness float64
	// BlockAbove closes corridors whose noise exceeds it.
	BlockAbove float64
	// OneWayDrop makes corridors one way downhill when the height change
	// between rooms exceeds it. Zero disables one-way corridors.
	OneWayDrop float64
	Height     float64
	Spawns     []string
}

func defaultGenConfig() genConfig {
	return genConfig{
		Name:       "generated",
		Rows:       8,
		Cols:       8,
		Spacing:    4,
		Seed:       1,
		Roughness:  2,
		BlockAbove: 0.8,
		Height:     1,
		Spawns:     []string{"wanderer.yaml", "ghost.yaml"},
	}
}

func nodeName(r, c int) string {
	return fmt.Sprintf("r%dc%d", r, c)
}

// octaveNoise layers frequencies of n, normalised to [0, 1).
func octaveNoise(n opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total, amplitude, maxVal := 0.0, 1.0, 0.0
	for range octaves {
		total += n.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return total / maxVal
}

// generate lays out a Rows x Cols lattice of rooms. Corridor costs, closures
// and heights come from two independent simplex noise fields.
func generate(cfg genConfig) (*levels.Level, error) {
	if cfg.Rows < 1 || cfg.Cols < 1 || cfg.Rows*cfg.Cols < 2 {
		return nil, fmt.Errorf("levelgen: lattice %dx%d is too small", cfg.Rows, cfg.Cols)
	}
	if cfg.Spacing <= 0 {
		return nil, fmt.Errorf("levelgen: spacing must be positive, got %v", cfg.Spacing)
	}

	terrain := opensimplex.NewNormalized(cfg.Seed)
	elevation := opensimplex.NewNormalized(cfg.Seed + 1)

	lvl := &levels.Level{Name: cfg.Name}
	heights := make([][]float64, cfg.Rows)
	for r := range cfg.Rows {
		heights[r] = make([]float64, cfg.Cols)
		for c := range cfg.Cols {
			h := octaveNoise(elevation, float64(c), float64(r), 3, 0.15, 0.5) * cfg.Height
			heights[r][c] = h
			lvl.Nodes = append(lvl.Nodes, levels.NodeSpec{
				Name:     nodeName(r, c),
				Position: common.V3(float64(c)*cfg.Spacing, h, float64(r)*cfg.Spacing),
			})
		}
	}

	corridor := func(r0, c0, r1, c1 int) {
		// sample between the two rooms
		x := (float64(c0) + float64(c1)) / 2
		y := (float64(r0) + float64(r1)) / 2
		n := octaveNoise(terrain, x, y, 4, 0.35, 0.5)

		from, to := nodeName(r0, c0), nodeName(r1, c1)
		drop := heights[r0][c0] - heights[r1][c1]
		oneWay := false
		if cfg.OneWayDrop > 0 {
			switch {
			case drop > cfg.OneWayDrop:
				oneWay = true
			case -drop > cfg.OneWayDrop:
				from, to = to, from
				oneWay = true
			}
		}

		cost := cfg.Spacing * (1 + cfg.Roughness*n)
		lvl.Connections = append(lvl.Connections, levels.ConnectionSpec{
			From:    from,
			To:      to,
			Cost:    &cost,
			OneWay:  oneWay,
			Blocked: cfg.BlockAbove > 0 && n > cfg.BlockAbove,
		})
	}
	for r := range cfg.Rows {
		for c := range cfg.Cols {
			if c+1 < cfg.Cols {
				corridor(r, c, r, c+1)
			}
			if r+1 < cfg.Rows {
				corridor(r, c, r+1, c)
			}
		}
	}

	lvl.Player = levels.Placement{Node: nodeName(0, 0)}
	corners := []string{
		nodeName(cfg.Rows-1, cfg.Cols-1),
		nodeName(0, cfg.Cols-1),
		nodeName(cfg.Rows-1, 0),
		nodeName(cfg.Rows/2, cfg.Cols/2),
	}
	for i, prefab := range cfg.Spawns {
		lvl.Spawns = append(lvl.Spawns, levels.Spawn{
			Prefab: prefab,
			Node:   corners[i%len(corners)],
		})
	}
	return lvl, nil
}

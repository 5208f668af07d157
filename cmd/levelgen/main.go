// Command levelgen writes a lattice labyrinth level whose corridor costs
// follow simplex noise terrain.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

func main() {
	cfg := defaultGenConfig()
	out := flag.String("o", "", "output file; stdout when empty")
	flag.StringVar(&cfg.Name, "name", cfg.Name, "level name")
	flag.IntVar(&cfg.Rows, "rows", cfg.Rows, "lattice rows")
	flag.IntVar(&cfg.Cols, "cols", cfg.Cols, "lattice columns")
	flag.Float64Var(&cfg.Spacing, "spacing", cfg.Spacing, "distance between rooms")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "noise seed")
	flag.Float64Var(&cfg.Roughness, "roughness", cfg.Roughness, "extra corridor cost at full noise, as a multiple of spacing")
	flag.Float64Var(&cfg.BlockAbove, "block", cfg.BlockAbove, "close corridors whose noise exceeds this; 0 keeps all open")
	flag.Float64Var(&cfg.OneWayDrop, "oneway-drop", cfg.OneWayDrop, "height drop that makes a corridor one way; 0 disables")
	flag.Float64Var(&cfg.Height, "height", cfg.Height, "maximum room height")
	spawns := flag.String("spawns", strings.Join(cfg.Spawns, ","), "comma separated enemy prefabs to place")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg.Spawns = nil
	for _, s := range strings.Split(*spawns, ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.Spawns = append(cfg.Spawns, s)
		}
	}

	lvl, err := generate(cfg)
	if err != nil {
		logger.Error("generate", "err", err)
		os.Exit(1)
	}
	// refuse to write a level the simulation cannot load
	g, err := lvl.BuildGraph()
	if err != nil {
		logger.Error("generated level is invalid", "err", err)
		os.Exit(1)
	}
	data, err := lvl.Marshal()
	if err != nil {
		logger.Error("marshal", "err", err)
		os.Exit(1)
	}

	if *out == "" {
		fmt.Print(string(data))
	} else if err := os.WriteFile(*out, data, 0o644); err != nil {
		logger.Error("write", "path", *out, "err", err)
		os.Exit(1)
	}
	logger.Info("level generated", "name", cfg.Name, "nodes", g.Len(), "edges", g.EdgeCount(), "path", *out)
}

package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintCatalog(t *testing.T) {
	var buf bytes.Buffer
	printCatalog(&buf)
	out := buf.String()
	for _, want := range []string{"levels:", "  labyrinth.yaml", "prefabs:", "  guard.yaml", "  player.yaml"} {
		if !strings.Contains(out, want+"\n") {
			t.Errorf("catalog missing %q:\n%s", want, out)
		}
	}
}

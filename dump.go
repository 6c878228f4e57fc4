package nvsim

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DumpConfig holds the [dump] section's keys (§6.4).
type DumpConfig struct {
	Target string // cli | file | both | none
	Path   string
	Name   string
	ID     string
}

// DumpConfig reads the [dump] section into a DumpConfig.
func (c *Config) DumpConfig() DumpConfig {
	sec := c.section("dump")
	return DumpConfig{
		Target: strings.ToLower(sec.Key("target").MustString("cli")),
		Path:   sec.Key("path").MustString("."),
		Name:   sec.Key("name").MustString("nvsim"),
		ID:     sec.Key("id").MustString("0"),
	}
}

// Dump writes the tree's counters to the dump target(s) configured in
// [dump]: cli prints to stdout, file writes `<path>/<name>_<id>`, both
// does both, none does nothing.
func Dump(dc DumpConfig, root Component) error {
	lines := DumpTree(root)

	if dc.Target == "none" {
		return nil
	}
	if dc.Target == "cli" || dc.Target == "both" {
		for _, l := range lines {
			fmt.Println(l)
		}
	}
	if dc.Target == "file" || dc.Target == "both" {
		name := fmt.Sprintf("%s_%s", dc.Name, dc.ID)
		p := filepath.Join(dc.Path, name)
		f, err := os.Create(p)
		if err != nil {
			return fmt.Errorf("nvsim: creating dump file %s: %w", p, err)
		}
		defer f.Close()
		for _, l := range lines {
			fmt.Fprintln(f, l)
		}
	}
	return nil
}

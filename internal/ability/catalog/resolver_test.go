package catalog

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type memorySource struct {
	path string
	data []byte
	err  error
}

func (m memorySource) Load() ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return append([]byte(nil), m.data...), nil
}

func (m memorySource) Path() string {
	return m.path
}

var known = []string{"spark", "shadow-cloak", "lightwall"}

func TestResolverLoadSequence(t *testing.T) {
	data := []byte(`
- key: spark
  displayName: Spark Bolt
  cooldownTicks: 30
- key: shadow-cloak
  toggle:
    intervalTicks: 5
    maxDurationTicks: 600
  prerequisite: |
    return caster.energy >= 10, "not-enough-energy"
`)
	resolver, err := NewResolver(known, memorySource{path: "inline.yaml", data: data})
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	spark, ok := resolver.Resolve("spark")
	if !ok {
		t.Fatalf("expected spark entry")
	}
	if spark.DisplayName != "Spark Bolt" || spark.CooldownTicks == nil || *spark.CooldownTicks != 30 {
		t.Fatalf("unexpected spark entry %#v", spark)
	}
	if !spark.IsEnabled() {
		t.Fatalf("entries without an enabled flag are enabled")
	}

	cloak, ok := resolver.Resolve("shadow-cloak")
	if !ok || cloak.Toggle == nil || cloak.Toggle.MaxDurationTicks != 600 {
		t.Fatalf("unexpected cloak entry %#v", cloak)
	}
	if !strings.Contains(cloak.Prerequisite, "caster.energy") {
		t.Fatalf("expected prerequisite script, got %q", cloak.Prerequisite)
	}
}

func TestResolverLoadMapping(t *testing.T) {
	data := []byte(`
lightwall:
  enabled: false
spark:
  cooldownTicks: 0
`)
	resolver, err := NewResolver(known, memorySource{path: "inline.yaml", data: data})
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	wall, ok := resolver.Resolve("lightwall")
	if !ok || wall.IsEnabled() {
		t.Fatalf("expected disabled lightwall, got %#v", wall)
	}
	spark, ok := resolver.Resolve("spark")
	if !ok || spark.CooldownTicks == nil || *spark.CooldownTicks != 0 {
		t.Fatalf("expected explicit zero cooldown, got %#v", spark)
	}
}

func TestResolverRejectsUnknownKeys(t *testing.T) {
	data := []byte(`- key: fireball`)
	_, err := NewResolver(known, memorySource{path: "inline.yaml", data: data})
	if err == nil || !strings.Contains(err.Error(), "unknown ability") {
		t.Fatalf("expected unknown ability error, got %v", err)
	}
}

func TestResolverRejectsDuplicatesAndNegativeValues(t *testing.T) {
	cases := map[string]string{
		"duplicate": "- key: spark\n- key: spark\n",
		"negative":  "- key: spark\n  cooldownTicks: -1\n",
		"toggle":    "- key: shadow-cloak\n  toggle:\n    intervalTicks: -2\n",
		"mismatch":  "spark:\n  key: lightwall\n",
	}
	for name, body := range cases {
		if _, err := NewResolver(known, memorySource{path: name, data: []byte(body)}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestResolverLaterSourcesOverride(t *testing.T) {
	base := memorySource{path: "base.yaml", data: []byte("- key: spark\n  cooldownTicks: 40\n")}
	local := memorySource{path: "local.yaml", data: []byte("- key: spark\n  cooldownTicks: 5\n")}
	resolver, err := NewResolver(known, base, local)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	spark, _ := resolver.Resolve("spark")
	if *spark.CooldownTicks != 5 || spark.Source != "local.yaml" {
		t.Fatalf("expected local override, got %#v", spark)
	}
}

func TestResolverSkipsMissingFilesAndReportsOtherErrors(t *testing.T) {
	if _, err := NewResolver(known, memorySource{path: "missing.yaml", err: fs.ErrNotExist}); err != nil {
		t.Fatalf("missing sources should be skipped, got %v", err)
	}
	boom := errors.New("disk on fire")
	if _, err := NewResolver(known, memorySource{path: "bad.yaml", err: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped load error, got %v", err)
	}
}

func TestLoadFromDiskAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abilities.yaml")
	if err := os.WriteFile(path, []byte("- key: spark\n  cooldownTicks: 12\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	resolver, err := Load(known, path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if spark, _ := resolver.Resolve("spark"); *spark.CooldownTicks != 12 {
		t.Fatalf("expected 12 ticks, got %d", *spark.CooldownTicks)
	}

	if err := os.WriteFile(path, []byte("- key: spark\n  cooldownTicks: 24\n"), 0o644); err != nil {
		t.Fatalf("rewrite catalog: %v", err)
	}
	if err := resolver.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if spark, _ := resolver.Resolve("spark"); *spark.CooldownTicks != 24 {
		t.Fatalf("expected reload to pick up 24 ticks, got %d", *spark.CooldownTicks)
	}

	if err := os.WriteFile(path, []byte("- key: nope\n"), 0o644); err != nil {
		t.Fatalf("rewrite catalog: %v", err)
	}
	if err := resolver.Reload(); err == nil {
		t.Fatalf("expected reload to fail on unknown key")
	}
	if spark, _ := resolver.Resolve("spark"); *spark.CooldownTicks != 24 {
		t.Fatalf("failed reload must keep previous entries")
	}
}

package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vlplay/xeno/pkg/security"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "xeno.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[limits]
max-instructions = 50000
max-stack-size = 512
allowed-pins = [2, 13]

[bridge]
listen = "localhost:7766"
quiet = false
info-file = "meta.txt"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if m.Limits.MaxInstructions != 50000 {
		t.Errorf("MaxInstructions = %d", m.Limits.MaxInstructions)
	}
	if m.Limits.MaxStackSize != 512 {
		t.Errorf("MaxStackSize = %d", m.Limits.MaxStackSize)
	}
	if len(m.Limits.AllowedPins) != 2 || m.Limits.AllowedPins[0] != 2 {
		t.Errorf("AllowedPins = %v", m.Limits.AllowedPins)
	}
	if m.Bridge.Listen != "localhost:7766" {
		t.Errorf("Listen = %q", m.Bridge.Listen)
	}
	if m.QuietDefault() {
		t.Error("quiet = false should override the default")
	}
	if m.Bridge.InfoFile != "meta.txt" {
		t.Errorf("InfoFile = %q", m.Bridge.InfoFile)
	}
}

func TestQuietDefaults(t *testing.T) {
	var m *Manifest
	if !m.QuietDefault() {
		t.Error("nil manifest should default quiet to true")
	}

	dir := t.TempDir()
	writeManifest(t, dir, "[limits]\n")
	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.QuietDefault() {
		t.Error("absent quiet should default to true")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[limits]\nmax-instructions = 2000\n")

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m == nil || m.Limits.MaxInstructions != 2000 {
		t.Fatalf("manifest = %+v", m)
	}
}

func TestFindAndLoadMissing(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m != nil {
		t.Error("no manifest should yield nil")
	}
}

func TestApplyLimits(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[limits]
max-instructions = 20000
max-string-length = 512
allowed-pins = [7]
`)
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	pol := security.NewPolicy()
	if err := m.ApplyLimits(pol); err != nil {
		t.Fatalf("ApplyLimits: %v", err)
	}
	if pol.MaxInstructions() != 20000 {
		t.Errorf("MaxInstructions = %d", pol.MaxInstructions())
	}
	if pol.MaxStringLength() != 512 {
		t.Errorf("MaxStringLength = %d", pol.MaxStringLength())
	}
	if !pol.IsPinAllowed(7) || pol.IsPinAllowed(13) {
		t.Error("pin list should be replaced")
	}
	// Untouched tunables keep defaults.
	if pol.MaxStackSize() != 256 {
		t.Errorf("MaxStackSize = %d, want default", pol.MaxStackSize())
	}
}

func TestApplyLimitsRejectsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[limits]\nmax-instructions = 100\n")
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.ApplyLimits(security.NewPolicy()); err == nil {
		t.Error("out-of-range override should be rejected")
	}
}

// Package manifest handles xeno.toml host configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/vlplay/xeno/pkg/security"
)

// Manifest represents a xeno.toml host configuration: policy overrides for
// the sandbox plus bridge settings. Every field is optional; zero values
// mean "keep the default".
type Manifest struct {
	Limits Limits `toml:"limits"`
	Bridge Bridge `toml:"bridge"`

	// Dir is the directory containing the xeno.toml file (set at load time).
	Dir string `toml:"-"`
}

// Limits overrides security-policy tunables. Values out of the policy's
// compile-time bounds are rejected when applied, not at parse time.
type Limits struct {
	MaxStringLength       uint16  `toml:"max-string-length"`
	MaxVariableNameLength uint16  `toml:"max-variable-name-length"`
	MaxExpressionDepth    uint16  `toml:"max-expression-depth"`
	MaxLoopDepth          uint16  `toml:"max-loop-depth"`
	MaxIfDepth            uint16  `toml:"max-if-depth"`
	MaxStackSize          uint16  `toml:"max-stack-size"`
	MaxInstructions       uint32  `toml:"max-instructions"`
	AllowedPins           []uint8 `toml:"allowed-pins"`
}

// Bridge configures the host command channel.
type Bridge struct {
	// Listen is an optional address for the WebSocket transport, e.g.
	// "localhost:7766". Empty disables it.
	Listen string `toml:"listen"`

	// Quiet suppresses the VM's load/run banner lines. Defaults to true.
	Quiet *bool `toml:"quiet"`

	// InfoFile overrides the metadata file path written at startup.
	InfoFile string `toml:"info-file"`
}

// Load parses a xeno.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "xeno.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a xeno.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "xeno.toml")); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// ApplyLimits pushes the non-zero overrides into the policy through its
// validating setters. The first rejected value fails the whole application;
// the policy keeps whatever was applied before it, matching the setters'
// one-at-a-time contract.
func (m *Manifest) ApplyLimits(pol *security.Policy) error {
	apply := func(ok bool, name string) error {
		if !ok {
			return fmt.Errorf("manifest: %s rejected by policy", name)
		}
		return nil
	}

	if v := m.Limits.MaxStringLength; v != 0 {
		if err := apply(pol.SetMaxStringLength(v), "max-string-length"); err != nil {
			return err
		}
	}
	if v := m.Limits.MaxVariableNameLength; v != 0 {
		if err := apply(pol.SetMaxVariableNameLength(v), "max-variable-name-length"); err != nil {
			return err
		}
	}
	if v := m.Limits.MaxExpressionDepth; v != 0 {
		if err := apply(pol.SetMaxExpressionDepth(v), "max-expression-depth"); err != nil {
			return err
		}
	}
	if v := m.Limits.MaxLoopDepth; v != 0 {
		if err := apply(pol.SetMaxLoopDepth(v), "max-loop-depth"); err != nil {
			return err
		}
	}
	if v := m.Limits.MaxIfDepth; v != 0 {
		if err := apply(pol.SetMaxIfDepth(v), "max-if-depth"); err != nil {
			return err
		}
	}
	if v := m.Limits.MaxStackSize; v != 0 {
		if err := apply(pol.SetMaxStackSize(v), "max-stack-size"); err != nil {
			return err
		}
	}
	if v := m.Limits.MaxInstructions; v != 0 {
		if err := apply(pol.SetMaxInstructions(v), "max-instructions"); err != nil {
			return err
		}
	}
	if len(m.Limits.AllowedPins) > 0 {
		if err := apply(pol.SetAllowedPins(m.Limits.AllowedPins), "allowed-pins"); err != nil {
			return err
		}
	}

	return nil
}

// QuietDefault resolves the bridge quiet flag with its default of true.
func (m *Manifest) QuietDefault() bool {
	if m == nil || m.Bridge.Quiet == nil {
		return true
	}
	return *m.Bridge.Quiet
}

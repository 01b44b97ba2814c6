package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Load reads and parses a policy file.
func Load(path string) (*Document, error) {
	doc, _, err := LoadWithHash(path)
	return doc, err
}

// LoadWithHash reads and parses a policy file and returns the SHA-256 of
// its raw bytes ("sha256:<hex>") for audit records.
func LoadWithHash(path string) (*Document, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read policy: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	return doc, Hash(data), nil
}

// Hash returns the audit hash of raw policy bytes.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Preset returns a named preset. Built-in presets are checked first, then
// ~/.trustgate/presets/<name>.md.
func Preset(name string) (*Document, error) {
	doc, _, err := PresetWithHash(name)
	return doc, err
}

// PresetWithHash is Preset plus the hash of the preset source.
func PresetWithHash(name string) (*Document, string, error) {
	data, err := PresetSource(name)
	if err != nil {
		return nil, "", err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("preset %q: %w", name, err)
	}
	return doc, Hash(data), nil
}

// PresetSource returns the raw document of a preset, for "policy show".
func PresetSource(name string) ([]byte, error) {
	if data, ok := builtinPresets[name]; ok {
		return data, nil
	}
	dir, err := userPresetDir()
	if err != nil {
		return nil, fmt.Errorf("preset %q not found (no built-in, cannot determine home dir)", name)
	}
	data, err := os.ReadFile(filepath.Join(dir, name+".md"))
	if err != nil {
		return nil, fmt.Errorf("preset %q not found", name)
	}
	return data, nil
}

// Presets returns sorted names of all available presets (built-in + user).
func Presets() []string {
	seen := make(map[string]bool)
	for name := range builtinPresets {
		seen[name] = true
	}
	if dir, err := userPresetDir(); err == nil {
		if entries, err := os.ReadDir(dir); err == nil {
			for _, e := range entries {
				if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
					continue
				}
				seen[strings.TrimSuffix(e.Name(), ".md")] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func userPresetDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".trustgate", "presets"), nil
}

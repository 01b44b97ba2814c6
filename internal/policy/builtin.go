package policy

import _ "embed"

//go:embed presets/open.md
var openPreset []byte

//go:embed presets/careful.md
var carefulPreset []byte

//go:embed presets/strict.md
var strictPreset []byte

// builtinPresets maps preset names to their embedded documents.
var builtinPresets = map[string][]byte{
	"open":    openPreset,
	"careful": carefulPreset,
	"strict":  strictPreset,
}

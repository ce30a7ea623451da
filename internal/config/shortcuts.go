package config

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed shortcuts.yaml
var builtinShortcutsYAML []byte

// builtinShortcuts parses the embedded default catalog. The file ships with
// the binary, so a parse failure is a build defect and panics at startup.
func builtinShortcuts() []Shortcut {
	var shortcuts []Shortcut
	if err := yaml.Unmarshal(builtinShortcutsYAML, &shortcuts); err != nil {
		panic(fmt.Sprintf("config: parse builtin shortcuts: %v", err))
	}
	return shortcuts
}

// mergeShortcuts overlays user-defined shortcuts on the builtin catalog.
// A user entry with a builtin id replaces the builtin; new ids append in
// user order.
func mergeShortcuts(builtin, user []Shortcut) []Shortcut {
	merged := make([]Shortcut, 0, len(builtin)+len(user))
	byID := make(map[string]int, len(builtin))
	for _, s := range builtin {
		byID[s.ID] = len(merged)
		merged = append(merged, s)
	}
	for _, s := range user {
		if idx, ok := byID[s.ID]; ok {
			merged[idx] = s
			continue
		}
		byID[s.ID] = len(merged)
		merged = append(merged, s)
	}
	return merged
}

package window

import (
	"path/filepath"
	"strings"
)

// aliases maps lowercased raw process/app names to their canonical display
// names. The sense client reports whatever the platform gives it, which is
// rarely what a human calls the app.
var aliases = map[string]string{
	"code":            "VS Code",
	"code - insiders": "VS Code",
	"vscodium":        "VS Code",
	"google chrome":   "Chrome",
	"chrome":          "Chrome",
	"chromium":        "Chrome",
	"msedge":          "Edge",
	"firefox":         "Firefox",
	"iterm2":          "iTerm",
	"gnome-terminal":  "Terminal",
	"konsole":         "Terminal",
	"alacritty":       "Terminal",
	"kitty":           "Terminal",
	"slack":           "Slack",
	"discord":         "Discord",
	"obsidian":        "Obsidian",
	"notion":          "Notion",
	"spotify":         "Spotify",
	"intellij idea":   "IntelliJ",
	"idea64":          "IntelliJ",
}

// strippedExtensions are executable/bundle suffixes removed before lookup.
var strippedExtensions = map[string]bool{
	".exe": true,
	".app": true,
	".bin": true,
}

// NormalizeAppName canonicalizes a raw app name: trims whitespace, strips
// executable extensions and resolves common aliases. Unrecognized names are
// returned with their original casing, extension removed.
func NormalizeAppName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return name
	}

	if ext := strings.ToLower(filepath.Ext(name)); strippedExtensions[ext] {
		name = name[:len(name)-len(ext)]
	}

	if canonical, ok := aliases[strings.ToLower(name)]; ok {
		return canonical
	}
	return name
}

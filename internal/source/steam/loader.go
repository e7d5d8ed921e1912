package steam

import (
	"embed"
	"log/slog"
	"os"
)

//go:embed selectors.json
var embeddedSelectors embed.FS

// LoadConfig tries to load selectors in the following order:
// 1. Embedded selectors.json
// 2. External file defined by STEAM_SELECTORS_PATH (or default "config/steam_selectors.json")
// 3. Hardcoded defaults
func LoadConfig() SelectorConfig {
	data, err := embeddedSelectors.ReadFile("selectors.json")
	if err == nil {
		sel, parseErr := LoadSelectorsFromBytes(data)
		if parseErr == nil {
			slog.Debug("Loaded Steam selectors from embedded config")
			return sel
		}
		slog.Warn("Embedded Steam selectors failed to parse, trying file fallback", "error", parseErr)
	}

	configPath := os.Getenv("STEAM_SELECTORS_PATH")
	if configPath == "" {
		configPath = "config/steam_selectors.json"
	}
	if fileSel, err := LoadSelectors(configPath); err == nil {
		slog.Info("Loaded Steam selectors from external file", "path", configPath)
		return fileSel
	} else {
		slog.Warn("Failed to load external Steam selectors, falling back to defaults", "path", configPath, "error", err)
	}

	return DefaultSelectors()
}

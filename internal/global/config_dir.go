package global

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigDirEnv names the variable that overrides the config directory.
const ConfigDirEnv = "FLOWDECK_CONFIG_DIR"

const appDirName = "flowdeck"

// DefaultConfigDir resolves the directory holding config.toml and the local
// database: $FLOWDECK_CONFIG_DIR, then $XDG_CONFIG_HOME/flowdeck, then
// ~/.config/flowdeck. A relative XDG_CONFIG_HOME is ignored.
func DefaultConfigDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(ConfigDirEnv)); dir != "" {
		return filepath.Clean(dir), nil
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); filepath.IsAbs(xdg) {
		return filepath.Join(xdg, appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(home, ".config", appDirName), nil
}

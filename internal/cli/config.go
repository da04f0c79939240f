package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/mcu-app/internal/board"
	"github.com/calvinalkan/mcu-app/internal/logging"
)

// Address modes.
const (
	AddressAuto = "auto"
	AddressNone = "none"
)

// Config holds the host-side settings: which board to emulate and where
// its flash image and logs live.
type Config struct {
	Board     string `json:"board,omitempty"`
	Image     string `json:"image,omitempty"`
	History   string `json:"history,omitempty"`
	LogFile   string `json:"log_file,omitempty"`
	LogFormat string `json:"log_format,omitempty"`
	Address   string `json:"address,omitempty"`
	Local     *bool  `json:"local,omitempty"`

	// Resolved (computed, not serialized)
	EffectiveCwd string `json:"-"`

	// Sources tracks which config files were loaded.
	Sources ConfigSources `json:"-"`
}

// ConfigSources tracks which config files were loaded.
type ConfigSources struct {
	Global  string
	Project string
}

// ConfigFileName is the project config file name.
const ConfigFileName = ".mcu-app.json"

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Board:     board.Default,
		Image:     "flash.img",
		LogFormat: logging.FormatConsole,
		Address:   AddressAuto,
	}
}

// LocalConsole reports whether the console gets local privileges: the
// explicit setting if any, otherwise whether the board has a console pin.
func (c Config) LocalConsole(b board.Board) bool {
	if c.Local != nil {
		return *c.Local
	}

	return b.LocalConsole
}

// Path resolves p against the effective working directory. Empty stays
// empty.
func (c Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(c.EffectiveCwd, p)
}

// StaticAddress returns the configured address and true, or false when
// the address is auto or none.
func (c Config) StaticAddress() (netip.Addr, bool) {
	addr, err := netip.ParseAddr(c.Address)
	if err != nil {
		return netip.Addr{}, false
	}

	return addr, true
}

func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "mcu-app", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "mcu-app", "config.json")
	}

	return ""
}

// LoadConfigInput holds the inputs for LoadConfig.
type LoadConfigInput struct {
	WorkDirOverride string            // -C/--cwd; os.Getwd() if empty
	ConfigPath      string            // -c/--config
	Overrides       Config            // flag values
	Env             map[string]string // environment variables
}

// LoadConfig loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/mcu-app/config.json or ~/.config/mcu-app/config.json)
// 3. Project config (.mcu-app.json in the working directory, if it exists)
// 4. Explicit config file via -c/--config
// 5. Flags.
func LoadConfig(input LoadConfigInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := DefaultConfig()

	if path := globalConfigPath(input.Env); path != "" {
		globalCfg, loaded, err := loadConfigFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = path
			cfg = mergeConfig(cfg, globalCfg)
		}
	}

	projectCfg, projectPath, err := loadProjectConfig(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)
	cfg = mergeConfig(cfg, input.Overrides)
	cfg.EffectiveCwd = workDir

	err = validateConfig(cfg)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadProjectConfig loads .mcu-app.json or an explicit config file.
func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	if configPath == "" {
		path := filepath.Join(workDir, ConfigFileName)

		cfg, loaded, err := loadConfigFile(path, false)
		if err != nil || !loaded {
			return Config{}, "", err
		}

		return cfg, path, nil
	}

	path := configPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	_, statErr := os.Stat(path)
	if statErr != nil {
		return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
	}

	cfg, _, err := loadConfigFile(path, true)
	if err != nil {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadConfigFile loads a config file. If mustExist is false, a missing file
// returns a zero config and loaded=false.
func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	err = dec.Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.Board != "" {
		base.Board = overlay.Board
	}

	if overlay.Image != "" {
		base.Image = overlay.Image
	}

	if overlay.History != "" {
		base.History = overlay.History
	}

	if overlay.LogFile != "" {
		base.LogFile = overlay.LogFile
	}

	if overlay.LogFormat != "" {
		base.LogFormat = overlay.LogFormat
	}

	if overlay.Address != "" {
		base.Address = overlay.Address
	}

	if overlay.Local != nil {
		base.Local = overlay.Local
	}

	return base
}

func validateConfig(cfg Config) error {
	_, err := board.Lookup(cfg.Board)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	if strings.TrimSpace(cfg.Image) == "" {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, ErrImageEmpty)
	}

	if cfg.LogFormat != logging.FormatConsole && cfg.LogFormat != logging.FormatJSON {
		return fmt.Errorf("%w: %w: %q", ErrConfigInvalid, ErrLogFormat, cfg.LogFormat)
	}

	switch cfg.Address {
	case AddressAuto, AddressNone:
	default:
		addr, err := netip.ParseAddr(cfg.Address)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("%w: %w: %q", ErrConfigInvalid, ErrAddress, cfg.Address)
		}
	}

	return nil
}

// FormatConfig renders cfg as key=value lines with paths resolved.
func FormatConfig(cfg Config, b board.Board) string {
	var sb strings.Builder

	line := func(k, v string) {
		sb.WriteString(k + "=" + v + "\n")
	}

	line("board", cfg.Board)
	line("image", cfg.Path(cfg.Image))

	if cfg.History != "" {
		line("history", cfg.Path(cfg.History))
	}

	if cfg.LogFile != "" {
		line("log_file", cfg.Path(cfg.LogFile))
	}

	line("log_format", cfg.LogFormat)
	line("address", cfg.Address)
	line("local", fmt.Sprint(cfg.LocalConsole(b)))

	return strings.TrimSuffix(sb.String(), "\n")
}

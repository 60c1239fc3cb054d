package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: defaults, then the config file,
// then command line flags.
func Load() (*Config, error) {
	cfg := Default()

	path := ConfigPath()
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first existing candidate: ./tilebake.yaml, then
// config.yaml in ConfigDir.
func findConfigFile() string {
	candidates := []string{
		"tilebake.yaml",
		filepath.Join(ConfigDir(), "config.yaml"),
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// ConfigDir returns the per-user config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "tilebake")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "tilebake")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "tilebake")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "tilebake")
	}
}

// loadFromFile merges the YAML file at path over cfg. Unknown keys are an
// error. Relative paths set by the file are taken relative to the file's
// directory, so a project config works from any working directory.
func loadFromFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	before := *cfg

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	dir := filepath.Dir(path)
	for _, field := range []struct {
		value *string
		old   string
		bare  bool // a bare name is looked up on PATH
	}{
		{&cfg.Build.OutputDir, before.Build.OutputDir, false},
		{&cfg.Build.AssetsRoot, before.Build.AssetsRoot, false},
		{&cfg.Atlas.ToolPath, before.Atlas.ToolPath, true},
		{&cfg.Entities.Definitions, before.Entities.Definitions, false},
		{&cfg.Logging.LogFile, before.Logging.LogFile, false},
	} {
		if *field.value == field.old {
			continue
		}
		if field.bare && !strings.ContainsRune(*field.value, '/') && !strings.ContainsRune(*field.value, filepath.Separator) {
			continue
		}
		*field.value = resolvePath(dir, *field.value)
	}

	cfg.Source = path
	return nil
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

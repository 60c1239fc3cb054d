// Package config handles build configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Faultbox/tilebake/pkg/encoding"
	"github.com/Faultbox/tilebake/pkg/entity"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all build settings.
type Config struct {
	Build    BuildConfig    `yaml:"build"`
	Atlas    AtlasConfig    `yaml:"atlas"`
	TileMap  TileMapConfig  `yaml:"tilemap"`
	Entities EntitiesConfig `yaml:"entities"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Source is the file the config was read from, empty for defaults.
	Source string `yaml:"-"`
}

// BuildConfig holds input and output locations.
type BuildConfig struct {
	OutputDir  string `yaml:"output_dir"`
	AssetsRoot string `yaml:"assets_root"` // tile-set sources resolve against this
	Workers    int    `yaml:"workers"`     // parallel tile-map writers, 1 = sequential
}

// AtlasConfig holds sprite atlas settings.
type AtlasConfig struct {
	XMLName      string        `yaml:"xml_name"`
	SourcePrefix string        `yaml:"source_prefix"` // prepended to image paths in the XML
	ToolPath     string        `yaml:"tool_path"`     // optional atlas packer
	ToolOutput   string        `yaml:"tool_output"`
	ToolTimeout  time.Duration `yaml:"tool_timeout"`
	VerifyImages bool          `yaml:"verify_images"`
}

// TileMapConfig holds tile-map output settings.
type TileMapConfig struct {
	RLE       bool   `yaml:"rle"`
	Extension string `yaml:"extension"`
}

// EntitiesConfig holds entity record output settings.
type EntitiesConfig struct {
	Output            string `yaml:"output"`
	PerMap            bool   `yaml:"per_map"`
	Header            bool   `yaml:"header"`
	LengthPrefix      bool   `yaml:"length_prefix"`
	Transform         bool   `yaml:"transform"`
	Charset           string `yaml:"charset"`
	OnUnregistered    string `yaml:"on_unregistered"`
	OnMissingProperty string `yaml:"on_missing_property"`
	Definitions       string `yaml:"definitions"` // YAML entity type definitions
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Build: BuildConfig{
			OutputDir:  "",
			AssetsRoot: "./Assets",
			Workers:    1,
		},
		Atlas: AtlasConfig{
			XMLName:      "atlas.xml",
			SourcePrefix: "./Assets",
			ToolOutput:   "main.atlas",
			ToolTimeout:  2 * time.Minute,
		},
		TileMap: TileMapConfig{
			RLE:       false,
			Extension: ".tilemap",
		},
		Entities: EntitiesConfig{
			Output:            "objects.bin",
			Charset:           encoding.DefaultCharset,
			OnUnregistered:    string(entity.PolicySkip),
			OnMissingProperty: string(entity.PolicyFail),
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate checks values that would otherwise fail halfway through a build.
func (c *Config) Validate() error {
	if c.Build.Workers < 1 {
		return fmt.Errorf("%w: build.workers must be at least 1, got %d", ErrInvalidConfig, c.Build.Workers)
	}
	if c.Atlas.XMLName == "" {
		return fmt.Errorf("%w: atlas.xml_name is empty", ErrInvalidConfig)
	}
	if c.TileMap.Extension == "" {
		return fmt.Errorf("%w: tilemap.extension is empty", ErrInvalidConfig)
	}
	if c.Atlas.ToolTimeout < 0 {
		return fmt.Errorf("%w: atlas.tool_timeout is negative", ErrInvalidConfig)
	}
	if _, err := encoding.Lookup(c.Entities.Charset); err != nil {
		return fmt.Errorf("%w: entities.charset: %v", ErrInvalidConfig, err)
	}
	if _, err := entity.ParsePolicy(c.Entities.OnUnregistered, entity.PolicySkip); err != nil {
		return fmt.Errorf("%w: entities.on_unregistered: %v", ErrInvalidConfig, err)
	}
	if _, err := entity.ParsePolicy(c.Entities.OnMissingProperty, entity.PolicyFail); err != nil {
		return fmt.Errorf("%w: entities.on_missing_property: %v", ErrInvalidConfig, err)
	}
	return nil
}

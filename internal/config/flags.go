package config

import "flag"

var (
	flagConfig    string
	flagDebug     bool
	flagAssets    string
	flagAtlasTool string
	flagRLE       bool
	flagLogFile   string
	flagDefs      string
	flagWorkers   int
)

// BindFlags registers the build flags on fs. Call it before fs.Parse and
// Load after.
func BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&flagConfig, "config", "", "Path to config file")
	fs.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	fs.StringVar(&flagAssets, "assets", "", "Assets root that tile-set sources resolve against")
	fs.StringVar(&flagAtlasTool, "atlas-tool", "", "Atlas packing tool to run on the generated XML")
	fs.BoolVar(&flagRLE, "rle", false, "Run-length encode tile layers")
	fs.StringVar(&flagLogFile, "log-file", "", "Also write logs to this file")
	fs.StringVar(&flagDefs, "defs", "", "YAML entity type definitions")
	fs.IntVar(&flagWorkers, "workers", 0, "Parallel tile-map writers")
}

// ConfigPath returns the explicit config path if provided via -config flag.
func ConfigPath() string {
	return flagConfig
}

// resetFlags restores flag values to their defaults.
func resetFlags() {
	flagConfig, flagDebug, flagAssets, flagAtlasTool = "", false, "", ""
	flagRLE, flagLogFile, flagDefs, flagWorkers = false, "", "", 0
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if flagDebug {
		cfg.Logging.Level = "debug"
	}
	if flagAssets != "" {
		cfg.Build.AssetsRoot = flagAssets
	}
	if flagAtlasTool != "" {
		cfg.Atlas.ToolPath = flagAtlasTool
	}
	if flagRLE {
		cfg.TileMap.RLE = true
	}
	if flagLogFile != "" {
		cfg.Logging.LogFile = flagLogFile
	}
	if flagDefs != "" {
		cfg.Entities.Definitions = flagDefs
	}
	if flagWorkers > 0 {
		cfg.Build.Workers = flagWorkers
	}
}

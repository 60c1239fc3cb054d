// tilebake compiles Tiled maps into engine assets: a sprite atlas
// description, one tile-map per map and the entity record stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/tilebake/internal/build"
	"github.com/Faultbox/tilebake/internal/config"
	"github.com/Faultbox/tilebake/internal/gameobjects"
	"github.com/Faultbox/tilebake/internal/logger"
	"github.com/Faultbox/tilebake/pkg/entity"
	"github.com/Faultbox/tilebake/pkg/formats"
	"github.com/Faultbox/tilebake/pkg/tiled"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "build":
		os.Exit(cmdBuild(args))
	case "inspect":
		cmdInspect(args)
	case "types":
		cmdTypes(args)
	case "config":
		os.Exit(cmdConfig(args))
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tilebake - Tiled map to engine asset compiler

Usage:
  tilebake <command> [options]

Commands:
  build [flags] <output_dir> <map...>  Compile maps into output_dir
                                       (output_dir may come from the config)
  inspect [-rle] <file.tilemap>        Show tile-map header and layers
  types [-defs file]                   List registered entity types
  config [build flags] [-o file] [-force]
                                       Print the effective config, or
                                       write it to file

Build flags:
  -config <file>      Config file (default ./tilebake.yaml)
  -assets <dir>       Assets root for tile-set sources
  -atlas-tool <path>  Atlas packer to run on atlas.xml
  -rle                Run-length encode tile layers
  -workers <n>        Parallel tile-map writers
  -defs <file>        YAML entity type definitions
  -log-file <file>    Also write logs to this file
  -debug              Enable debug logging

Examples:
  tilebake build -rle -assets ./Assets ./out maps/farm.tmx maps/town.json
  tilebake inspect -rle out/farm.tilemap
  tilebake types -defs entities.yaml
  tilebake config -rle -o tilebake.yaml`)
}

// newRegistry returns the engine and game types plus any types declared in
// defsPath.
func newRegistry(defsPath string, log *zap.Logger) (*entity.Registry, error) {
	reg := entity.NewRegistry(log)
	entity.RegisterEngineTypes(reg)
	gameobjects.Register(reg)

	if defsPath == "" {
		return reg, nil
	}
	defs, err := entity.LoadDefinitions(defsPath)
	if err != nil {
		return nil, err
	}
	defs.Register(reg)
	return reg, nil
}

func cmdBuild(args []string) int {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	config.BindFlags(fs)
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return 1
	}

	// With build.output_dir set in the config every argument is a map.
	outputDir, maps := cfg.Build.OutputDir, fs.Args()
	if outputDir == "" && len(maps) > 0 {
		outputDir, maps = maps[0], maps[1:]
	}
	if outputDir == "" || len(maps) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: tilebake build [flags] <output_dir> <map...>")
		return 1
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()
	logger.Sugar.Debugf("Config: %+v", cfg)

	reg, err := newRegistry(cfg.Entities.Definitions, logger.Named("registry"))
	if err != nil {
		logger.Error("loading entity definitions", zap.Error(err))
		return 1
	}

	p, err := build.New(cfg, reg, logger.Named("build"))
	if err != nil {
		logger.Error("creating pipeline", zap.Error(err))
		return 1
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := p.Run(ctx, outputDir, maps)
	if report != nil {
		printReport(report)
	}
	if err != nil {
		for _, e := range multierr.Errors(err) {
			var inErr *build.InputError
			if errors.As(e, &inErr) {
				logger.Error("map failed", zap.String("map", inErr.Path), zap.Error(inErr.Err))
				continue
			}
			logger.Error("build failed", zap.Error(e))
		}
		return 1
	}
	return 0
}

func printReport(r *build.Report) {
	fmt.Printf("Maps:     %d built, %d failed\n", r.Maps, len(r.FailedMaps))
	fmt.Printf("Sprites:  %d\n", r.Sprites)
	if r.AtlasXML != "" {
		fmt.Printf("Atlas:    %s\n", r.AtlasXML)
	}
	if r.AtlasTool != nil {
		status := "ok"
		if r.AtlasTool.Err != nil {
			status = r.AtlasTool.Err.Error()
		}
		fmt.Printf("Packer:   %s (%s)\n", status, r.AtlasTool.Duration.Round(1e6))
	}
	for _, path := range r.TileMaps {
		fmt.Printf("Tile-map: %s\n", path)
	}
	for _, path := range r.Entities {
		fmt.Printf("Entities: %s\n", path)
	}
	s := r.EntityStats
	fmt.Printf("Records:  %d written, %d unregistered, %d missing property\n",
		s.Records, s.Unregistered, s.MissingProperty)
	for _, issue := range r.ImageIssues {
		fmt.Printf("Image:    %s\n", issue)
	}
	if r.Duration > 0 {
		fmt.Printf("Took:     %s\n", r.Duration.Round(1e6))
	}
}

func cmdInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	rle := fs.Bool("rle", false, "File was written with run-length encoding")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: tilebake inspect [-rle] <file.tilemap>")
		os.Exit(1)
	}

	enc := formats.EncodingUncompressed
	if *rle {
		enc = formats.EncodingRLE
	}

	tm, err := formats.ParseTileMapFile(fs.Arg(0), enc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("File:     %s\n", fs.Arg(0))
	fmt.Printf("Version:  %d\n", tm.Version)
	fmt.Printf("Encoding: %s\n", enc)
	fmt.Printf("Layers:   %d\n", len(tm.Layers))
	for i, l := range tm.Layers {
		used := make(map[uint16]bool)
		empty := 0
		for _, t := range l.Tiles {
			if t == 0 {
				empty++
				continue
			}
			used[t] = true
		}
		fmt.Printf("  [%d] %dx%d at (%d,%d), %d distinct sprites, %d empty cells\n",
			i, l.Width, l.Height, l.X, l.Y, len(used), empty)
	}
}

func cmdTypes(args []string) {
	fs := flag.NewFlagSet("types", flag.ExitOnError)
	defs := fs.String("defs", "", "YAML entity type definitions")
	fs.Parse(args)

	reg, err := newRegistry(*defs, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Codes of dynamic types depend on the object; an empty one shows the
	// default.
	var empty tiled.Object
	fmt.Printf("%-20s %6s %s\n", "TYPE", "CODE", "FLAG")
	for _, name := range reg.Names() {
		r, _ := reg.Resolve(name)
		fmt.Printf("%-20s %6d %v\n", name, r.TypeCode(&empty), r.Flag)
	}
}

func cmdConfig(args []string) int {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	config.BindFlags(fs)
	out := fs.String("o", "", "Write the config to this file instead of stdout")
	force := fs.Bool("force", false, "Replace an existing file")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return 1
	}

	if *out == "" {
		if cfg.Source != "" {
			fmt.Printf("# loaded from %s\n", cfg.Source)
		}
		if err := cfg.Encode(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if err := cfg.SaveTo(*out, *force); err != nil {
		if errors.Is(err, os.ErrExist) {
			fmt.Fprintf(os.Stderr, "%s already exists, use -force to replace it\n", *out)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", *out)
	return 0
}

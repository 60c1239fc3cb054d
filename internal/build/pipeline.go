// Package build drives a full compile: it loads maps, builds the shared
// atlas, and writes the atlas description, one tile-map per map and the
// entity records.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/tilebake/internal/assets"
	"github.com/Faultbox/tilebake/internal/config"
	"github.com/Faultbox/tilebake/pkg/atlas"
	"github.com/Faultbox/tilebake/pkg/encoding"
	"github.com/Faultbox/tilebake/pkg/entity"
	"github.com/Faultbox/tilebake/pkg/formats"
	"github.com/Faultbox/tilebake/pkg/tiled"
)

// ErrNoMaps is returned when a build has no maps at all.
var ErrNoMaps = errors.New("no maps to build")

// Report summarizes a build.
type Report struct {
	Maps        int      // maps that loaded
	FailedMaps  []string // maps that did not load
	Sprites     int
	AtlasXML    string
	TileMaps    []string
	Entities    []string
	EntityStats entity.Stats
	ImageIssues []atlas.ImageIssue
	AtlasTool   *ToolResult
	Duration    time.Duration
}

// Pipeline compiles maps with one configuration and one registry.
type Pipeline struct {
	cfg    *config.Config
	reg    *entity.Registry
	assets *assets.Manager
	log    *zap.Logger
}

// New creates a pipeline. reg must be fully populated; it is only read from
// here on. A nil logger disables logging.
func New(cfg *config.Config, reg *entity.Registry, log *zap.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	mgr := assets.NewManager(log.Named("assets"))
	if cfg.Build.AssetsRoot != "" {
		if err := mgr.AddRoot(cfg.Build.AssetsRoot); err != nil {
			// Maps with only embedded tile-sets still build.
			log.Warn("assets root unavailable", zap.Error(err))
		}
	}

	return &Pipeline{cfg: cfg, reg: reg, assets: mgr, log: log}, nil
}

// Close releases cached assets.
func (p *Pipeline) Close() {
	p.assets.Close()
}

// Run compiles mapPaths into outputDir. Maps that fail to load are reported
// as *InputError values combined with multierr; the remaining maps are still
// compiled. Any other error aborts the run.
func (p *Pipeline) Run(ctx context.Context, outputDir string, mapPaths []string) (*Report, error) {
	start := time.Now()
	report := &Report{}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return report, fmt.Errorf("creating output directory: %w", err)
	}

	maps, inputErrs := p.loadMaps(mapPaths, report)
	report.Maps = len(maps)
	if len(maps) == 0 {
		if inputErrs == nil {
			return report, ErrNoMaps
		}
		return report, inputErrs
	}

	a, err := p.buildAtlas(maps)
	if err != nil {
		return report, err
	}
	report.Sprites = a.Len()

	report.AtlasXML = filepath.Join(outputDir, p.cfg.Atlas.XMLName)
	err = writeFile(report.AtlasXML, func(w io.Writer) error {
		return atlas.WriteXML(w, a, p.cfg.Atlas.SourcePrefix)
	})
	if err != nil {
		return report, fmt.Errorf("writing atlas description: %w", err)
	}

	if p.cfg.Atlas.VerifyImages {
		report.ImageIssues = atlas.VerifyImages(a, p.assets)
		for _, issue := range report.ImageIssues {
			p.log.Warn("atlas image check", zap.String("issue", issue.String()))
		}
	}

	if p.cfg.Atlas.ToolPath != "" {
		res := p.runAtlasTool(ctx, outputDir, report.AtlasXML)
		report.AtlasTool = &res
	} else {
		p.log.Info("no atlas tool configured, engine will pack atlas.xml at load time")
	}

	report.TileMaps, err = p.writeTileMaps(ctx, outputDir, maps, a)
	if err != nil {
		return report, err
	}

	report.Entities, report.EntityStats, err = p.writeEntities(outputDir, maps)
	if err != nil {
		return report, err
	}

	report.Duration = time.Since(start)
	p.log.Info("build finished",
		zap.Int("maps", report.Maps),
		zap.Int("failed", len(report.FailedMaps)),
		zap.Int("sprites", report.Sprites),
		zap.Int("entities", report.EntityStats.Records),
		zap.Duration("took", report.Duration))

	return report, inputErrs
}

func (p *Pipeline) loadMaps(paths []string, report *Report) ([]*tiled.Map, error) {
	var (
		maps []*tiled.Map
		errs error
	)
	// Output files are named after the map, so two maps with the same base
	// name would overwrite each other.
	owners := make(map[string]string, len(paths))
	for _, path := range paths {
		m, err := tiled.LoadMapFile(path)
		if err == nil {
			err = p.checkTileSets(m)
		}
		if err == nil {
			if prev, ok := owners[m.BaseName()]; ok {
				err = fmt.Errorf("output name %q already used by %s", m.BaseName(), prev)
			}
		}
		if err != nil {
			p.log.Error("skipping map", zap.String("map", path), zap.Error(err))
			report.FailedMaps = append(report.FailedMaps, path)
			errs = multierr.Append(errs, &InputError{Path: path, Err: err})
			continue
		}
		p.log.Debug("loaded map",
			zap.String("map", path),
			zap.Int("tilesets", len(m.TileSets)),
			zap.Int("layers", len(m.Layers)))
		owners[m.BaseName()] = path
		maps = append(maps, m)
	}
	return maps, errs
}

// checkTileSets loads and validates every tile-set m references, so that a
// broken tile-set only drops the maps that use it. Loaded tile-sets stay in
// the asset cache for the atlas build.
func (p *Pipeline) checkTileSets(m *tiled.Map) error {
	for _, ref := range m.TileSets {
		ts := ref.Embedded
		if ts == nil {
			var err error
			if ts, err = p.assets.TileSet(ref.Source); err != nil {
				return fmt.Errorf("loading tile-set %q: %w", ref.Source, err)
			}
		}
		if err := ts.Validate(); err != nil {
			return fmt.Errorf("tile-set %q: %w", ref.Source, err)
		}
	}
	return nil
}

func (p *Pipeline) buildAtlas(maps []*tiled.Map) (*atlas.Atlas, error) {
	used := atlas.CollectUsedIndices(maps)
	p.log.Debug("collected used tiles",
		zap.Int("tilesets", len(used.Sources())),
		zap.Int("tiles", used.Total()))

	a, err := atlas.Build(used, p.assets)
	if err != nil {
		return nil, fmt.Errorf("building atlas: %w", err)
	}
	for _, sheet := range a.Sheets() {
		p.log.Debug("atlas sheet",
			zap.String("source", sheet.Source),
			zap.Int("tiles", len(used.Indices(sheet.Source))))
	}
	return a, nil
}

func (p *Pipeline) runAtlasTool(ctx context.Context, outputDir, xmlPath string) ToolResult {
	outPath := filepath.Join(outputDir, p.cfg.Atlas.ToolOutput)
	res := RunAtlasTool(ctx, p.cfg.Atlas.ToolPath, xmlPath, outPath, p.cfg.Atlas.ToolTimeout)

	fields := []zap.Field{
		zap.Strings("args", res.Args),
		zap.Duration("took", res.Duration),
		zap.String("stdout", res.Stdout),
		zap.String("stderr", res.Stderr),
	}
	if res.Err != nil {
		p.log.Warn("atlas tool failed, continuing without packed atlas", append(fields, zap.Error(res.Err))...)
	} else {
		p.log.Info("atlas tool finished", fields...)
	}
	return res
}

func (p *Pipeline) tileEncoding() formats.Encoding {
	if p.cfg.TileMap.RLE {
		return formats.EncodingRLE
	}
	return formats.EncodingUncompressed
}

func (p *Pipeline) tileMapPath(outputDir string, m *tiled.Map) string {
	return filepath.Join(outputDir, m.BaseName()+p.cfg.TileMap.Extension)
}

// writeTileMaps writes one tile-map per map. With more than one worker the
// maps are written in parallel; the atlas is read-only by now.
func (p *Pipeline) writeTileMaps(ctx context.Context, outputDir string, maps []*tiled.Map, a *atlas.Atlas) ([]string, error) {
	paths := make([]string, len(maps))
	enc := p.tileEncoding()

	write := func(i int) error {
		m := maps[i]
		tm, err := formats.BuildTileMap(m, a)
		if err != nil {
			return fmt.Errorf("%s: %w", m.Path, err)
		}
		path := p.tileMapPath(outputDir, m)
		err = writeFile(path, func(w io.Writer) error {
			return formats.WriteTileMap(w, tm, enc)
		})
		if err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		p.log.Debug("wrote tile-map",
			zap.String("map", m.Path),
			zap.String("file", path),
			zap.Int("layers", len(tm.Layers)),
			zap.Stringer("encoding", enc))
		paths[i] = path
		return nil
	}

	if p.cfg.Build.Workers <= 1 {
		for i := range maps {
			if err := write(i); err != nil {
				return nil, err
			}
		}
		return paths, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Build.Workers)
	for i := range maps {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return write(i)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (p *Pipeline) recordWriter() (*entity.RecordWriter, error) {
	ec := p.cfg.Entities
	cs, err := encoding.Lookup(ec.Charset)
	if err != nil {
		return nil, err
	}
	onUnregistered, err := entity.ParsePolicy(ec.OnUnregistered, entity.PolicySkip)
	if err != nil {
		return nil, err
	}
	onMissing, err := entity.ParsePolicy(ec.OnMissingProperty, entity.PolicyFail)
	if err != nil {
		return nil, err
	}

	opts := entity.Options{
		Header:            ec.Header,
		LengthPrefix:      ec.LengthPrefix,
		Transform:         ec.Transform,
		Charset:           cs,
		OnUnregistered:    onUnregistered,
		OnMissingProperty: onMissing,
	}
	return entity.NewRecordWriter(p.reg, opts, p.log.Named("entities")), nil
}

// writeEntities writes the combined record stream and, if configured, one
// stream per map.
func (p *Pipeline) writeEntities(outputDir string, maps []*tiled.Map) ([]string, entity.Stats, error) {
	var stats entity.Stats
	rw, err := p.recordWriter()
	if err != nil {
		return nil, stats, err
	}

	var paths []string
	combined := filepath.Join(outputDir, p.cfg.Entities.Output)
	err = writeFile(combined, func(w io.Writer) error {
		var err error
		stats, err = rw.Write(w, maps)
		return err
	})
	if err != nil {
		return nil, stats, fmt.Errorf("writing entities: %w", err)
	}
	paths = append(paths, combined)

	if stats.Unregistered > 0 || stats.MissingProperty > 0 {
		p.log.Warn("some objects were not written",
			zap.Int("unregistered", stats.Unregistered),
			zap.Int("missing_property", stats.MissingProperty))
	}

	if !p.cfg.Entities.PerMap {
		return paths, stats, nil
	}
	for _, m := range maps {
		path := filepath.Join(outputDir, m.BaseName()+".objects")
		err := writeFile(path, func(w io.Writer) error {
			_, err := rw.Write(w, []*tiled.Map{m})
			return err
		})
		if err != nil {
			return nil, stats, fmt.Errorf("writing %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, stats, nil
}

package build

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"go.uber.org/multierr"

	"github.com/Faultbox/tilebake/internal/config"
	"github.com/Faultbox/tilebake/internal/gameobjects"
	"github.com/Faultbox/tilebake/pkg/entity"
	"github.com/Faultbox/tilebake/pkg/formats"
	"github.com/Faultbox/tilebake/pkg/tiled"
)

const terrainTSJ = `{"name":"terrain","image":"terrain.png","imagewidth":64,"imageheight":32,
"tilewidth":16,"tileheight":16,"margin":0,"spacing":0,"columns":4,"tilecount":8}`

const farmJSON = `{
  "width": 2, "height": 2, "tilewidth": 16, "tileheight": 16,
  "tilesets": [{"firstgid": 1, "source": "terrain.tsj"}],
  "layers": [
    {"type": "tilelayer", "name": "ground", "width": 2, "height": 2, "x": 0, "y": 0, "data": [1, 2, 2, 0]},
    {"type": "objectgroup", "name": "entities", "objects": [
      {"id": 1, "type": "Exit", "x": 0, "y": 0, "width": 16, "height": 32,
       "properties": [{"name": "to", "type": "string", "value": "town"}]},
      {"id": 2, "type": "Bush", "x": 4, "y": 4, "width": 8, "height": 8}
    ]}
  ]
}`

const townJSON = `{
  "width": 2, "height": 2, "tilewidth": 16, "tileheight": 16,
  "tilesets": [{"firstgid": 1, "source": "terrain.tsj"}],
  "layers": [
    {"type": "tilelayer", "name": "ground", "width": 2, "height": 2, "x": 0, "y": 0, "data": [3, 3, 3, 3]},
    {"type": "objectgroup", "name": "entities", "objects": [
      {"id": 1, "type": "PlayerStart", "x": 8, "y": 8,
       "properties": [
         {"name": "from", "type": "string", "value": "farm"},
         {"name": "thisLocation", "type": "string", "value": "town"}
       ]}
    ]}
  ]
}`

type fixture struct {
	dir    string
	assets string
	maps   []string
	out    string
}

func writeFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	fx := fixture{
		dir:    dir,
		assets: filepath.Join(dir, "Assets"),
		out:    filepath.Join(dir, "out"),
	}

	files := map[string]string{
		"Assets/terrain.tsj": terrainTSJ,
		"maps/farm.json":     farmJSON,
		"maps/town.json":     townJSON,
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		os.MkdirAll(filepath.Dir(path), 0755)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	img, err := os.Create(filepath.Join(fx.assets, "terrain.png"))
	if err != nil {
		t.Fatalf("create image: %v", err)
	}
	png.Encode(img, image.NewRGBA(image.Rect(0, 0, 64, 32)))
	img.Close()

	fx.maps = []string{filepath.Join(dir, "maps", "farm.json"), filepath.Join(dir, "maps", "town.json")}
	return fx
}

func testRegistry() *entity.Registry {
	reg := entity.NewRegistry(nil)
	entity.RegisterEngineTypes(reg)
	gameobjects.Register(reg)
	return reg
}

func testConfig(fx fixture) *config.Config {
	cfg := config.Default()
	cfg.Build.AssetsRoot = fx.assets
	cfg.TileMap.RLE = true
	return cfg
}

func run(t *testing.T, cfg *config.Config, out string, maps []string) (*Report, error) {
	t.Helper()
	p, err := New(cfg, testRegistry(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()
	return p.Run(context.Background(), out, maps)
}

func le(values ...any) []byte {
	var buf bytes.Buffer
	for _, v := range values {
		if b, ok := v.([]byte); ok {
			buf.Write(b)
			continue
		}
		binary.Write(&buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

func TestRun(t *testing.T) {
	fx := writeFixture(t)
	cfg := testConfig(fx)
	cfg.Atlas.VerifyImages = true
	cfg.Entities.PerMap = true

	report, err := run(t, cfg, fx.out, fx.maps)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Maps != 2 || report.Sprites != 3 {
		t.Errorf("report = %d maps, %d sprites; want 2, 3", report.Maps, report.Sprites)
	}
	if len(report.ImageIssues) != 0 {
		t.Errorf("unexpected image issues %v", report.ImageIssues)
	}

	// Tile-maps
	farm, err := formats.ParseTileMapFile(filepath.Join(fx.out, "farm.tilemap"), formats.EncodingRLE)
	if err != nil {
		t.Fatalf("parsing farm.tilemap: %v", err)
	}
	if len(farm.Layers) != 1 || !reflect.DeepEqual(farm.Layers[0].Tiles, []uint16{1, 2, 2, 0}) {
		t.Errorf("farm layers = %+v", farm.Layers)
	}
	town, err := formats.ParseTileMapFile(filepath.Join(fx.out, "town.tilemap"), formats.EncodingRLE)
	if err != nil {
		t.Fatalf("parsing town.tilemap: %v", err)
	}
	if !reflect.DeepEqual(town.Layers[0].Tiles, []uint16{3, 3, 3, 3}) {
		t.Errorf("town tiles = %v", town.Layers[0].Tiles)
	}

	// Atlas description
	xmlData, err := os.ReadFile(filepath.Join(fx.out, "atlas.xml"))
	if err != nil {
		t.Fatalf("reading atlas.xml: %v", err)
	}
	for _, want := range []string{
		`source="./Assets/terrain.png" top="0" left="0" width="16" height="16" name="terrain_0"`,
		`source="./Assets/terrain.png" top="0" left="32" width="16" height="16" name="terrain_2"`,
	} {
		if !strings.Contains(string(xmlData), want) {
			t.Errorf("atlas.xml missing %s\n%s", want, xmlData)
		}
	}

	// Entities: the unregistered Bush is skipped.
	objects, err := os.ReadFile(filepath.Join(fx.out, "objects.bin"))
	if err != nil {
		t.Fatalf("reading objects.bin: %v", err)
	}
	exit := le(uint32(5), uint32(1), float32(16), float32(32), uint32(4), []byte("town"))
	start := le(uint32(4), uint32(1), uint32(4), []byte("farm"), uint32(4), []byte("town"))
	if want := append(append([]byte{}, exit...), start...); !bytes.Equal(objects, want) {
		t.Errorf("objects.bin = % X\nwant          % X", objects, want)
	}
	if report.EntityStats.Records != 2 || report.EntityStats.Unregistered != 1 {
		t.Errorf("entity stats = %+v", report.EntityStats)
	}

	perMap, err := os.ReadFile(filepath.Join(fx.out, "town.objects"))
	if err != nil {
		t.Fatalf("reading town.objects: %v", err)
	}
	if !bytes.Equal(perMap, start) {
		t.Errorf("town.objects = % X, want % X", perMap, start)
	}
}

func TestRun_Uncompressed(t *testing.T) {
	fx := writeFixture(t)
	cfg := testConfig(fx)
	cfg.TileMap.RLE = false
	cfg.TileMap.Extension = ".bin"

	if _, err := run(t, cfg, fx.out, fx.maps[:1]); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(fx.out, "farm.bin"))
	if err != nil {
		t.Fatalf("reading farm.bin: %v", err)
	}
	want := le(uint32(1), uint32(1), uint32(2), uint32(2), uint32(0), uint32(0),
		uint16(1), uint16(2), uint16(2), uint16(0))
	if !bytes.Equal(data, want) {
		t.Errorf("farm.bin = % X\nwant       % X", data, want)
	}
}

func TestRun_InputErrors(t *testing.T) {
	fx := writeFixture(t)
	broken := filepath.Join(fx.dir, "maps", "broken.json")
	os.WriteFile(broken, []byte(`{"layers": [}`), 0644)
	missing := filepath.Join(fx.dir, "maps", "missing.json")

	report, err := run(t, testConfig(fx), fx.out, []string{broken, fx.maps[0], missing})
	if err == nil {
		t.Fatal("expected input errors")
	}

	errs := multierr.Errors(err)
	if len(errs) != 2 {
		t.Fatalf("expected 2 input errors, got %d: %v", len(errs), err)
	}
	var inErr *InputError
	if !errors.As(errs[0], &inErr) || inErr.Path != broken {
		t.Errorf("expected InputError for %s, got %v", broken, errs[0])
	}
	if !errors.Is(errs[1], fs.ErrNotExist) {
		t.Errorf("expected not-exist error for missing map, got %v", errs[1])
	}

	// The good map is still compiled.
	if report.Maps != 1 || len(report.FailedMaps) != 2 {
		t.Errorf("report = %d maps, failed %v", report.Maps, report.FailedMaps)
	}
	if _, err := os.Stat(filepath.Join(fx.out, "farm.tilemap")); err != nil {
		t.Errorf("expected farm.tilemap to be written: %v", err)
	}
}

func TestRun_NoMaps(t *testing.T) {
	fx := writeFixture(t)
	if _, err := run(t, testConfig(fx), fx.out, nil); !errors.Is(err, ErrNoMaps) {
		t.Errorf("expected ErrNoMaps, got %v", err)
	}
}

func TestRun_DuplicateOutputName(t *testing.T) {
	fx := writeFixture(t)
	other := filepath.Join(fx.dir, "other", "farm.json")
	os.MkdirAll(filepath.Dir(other), 0755)
	os.WriteFile(other, []byte(farmJSON), 0644)

	report, err := run(t, testConfig(fx), fx.out, []string{fx.maps[0], other})
	var inErr *InputError
	if !errors.As(err, &inErr) || inErr.Path != other {
		t.Errorf("expected InputError for %s, got %v", other, err)
	}
	if report.Maps != 1 {
		t.Errorf("expected 1 map built, got %d", report.Maps)
	}
}

func TestRun_BadTileSetDropsOnlyItsMaps(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		content string // empty: the document does not exist
		want    error
	}{
		{"missing", "missing.tsj", "", fs.ErrNotExist},
		{"malformed", "broken.tsj", `{"name":"broken","image":"b.png","tilewidth":16,"tileheight":16}`, tiled.ErrInvalidTileSet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := writeFixture(t)
			if tt.content != "" {
				os.WriteFile(filepath.Join(fx.assets, tt.source), []byte(tt.content), 0644)
			}
			town := strings.Replace(townJSON, `"terrain.tsj"`, `"`+tt.source+`"`, 1)
			os.WriteFile(fx.maps[1], []byte(town), 0644)

			report, err := run(t, testConfig(fx), fx.out, fx.maps)

			errs := multierr.Errors(err)
			if len(errs) != 1 {
				t.Fatalf("expected 1 input error, got %v", err)
			}
			var inErr *InputError
			if !errors.As(errs[0], &inErr) || inErr.Path != fx.maps[1] {
				t.Fatalf("expected InputError for %s, got %v", fx.maps[1], errs[0])
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if !strings.Contains(err.Error(), tt.source) {
				t.Errorf("error should name the tile-set: %v", err)
			}

			// The other map is compiled as usual.
			if report.Maps != 1 || report.Sprites != 2 {
				t.Errorf("report = %d maps, %d sprites; want 1, 2", report.Maps, report.Sprites)
			}
			if _, err := os.Stat(filepath.Join(fx.out, "farm.tilemap")); err != nil {
				t.Errorf("expected farm.tilemap: %v", err)
			}
			if _, err := os.Stat(filepath.Join(fx.out, "town.tilemap")); err == nil {
				t.Error("town.tilemap should not be written")
			}
			objects, _ := os.ReadFile(filepath.Join(fx.out, "objects.bin"))
			exit := le(uint32(5), uint32(1), float32(16), float32(32), uint32(4), []byte("town"))
			if !bytes.Equal(objects, exit) {
				t.Errorf("objects.bin = % X, want % X", objects, exit)
			}
		})
	}
}

func TestRun_MissingPropertyFails(t *testing.T) {
	fx := writeFixture(t)
	noTo := strings.Replace(farmJSON, `"properties": [{"name": "to", "type": "string", "value": "town"}]`, `"properties": []`, 1)
	os.WriteFile(fx.maps[0], []byte(noTo), 0644)

	_, err := run(t, testConfig(fx), fx.out, fx.maps)
	var mp *entity.MissingPropertyError
	if !errors.As(err, &mp) || mp.Property != "to" {
		t.Fatalf("expected missing 'to' property, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(fx.out, "objects.bin")); err == nil {
		t.Error("partial objects.bin should be removed")
	}
}

func TestRun_ParallelMatchesSequential(t *testing.T) {
	fx := writeFixture(t)

	seqOut := filepath.Join(fx.dir, "seq")
	parOut := filepath.Join(fx.dir, "par")

	cfg := testConfig(fx)
	if _, err := run(t, cfg, seqOut, fx.maps); err != nil {
		t.Fatalf("sequential Run failed: %v", err)
	}
	cfg = testConfig(fx)
	cfg.Build.Workers = 4
	if _, err := run(t, cfg, parOut, fx.maps); err != nil {
		t.Fatalf("parallel Run failed: %v", err)
	}

	for _, name := range []string{"atlas.xml", "farm.tilemap", "town.tilemap", "objects.bin"} {
		a, _ := os.ReadFile(filepath.Join(seqOut, name))
		b, _ := os.ReadFile(filepath.Join(parOut, name))
		if len(a) == 0 || !bytes.Equal(a, b) {
			t.Errorf("%s differs between sequential and parallel builds", name)
		}
	}
}

func TestRun_AtlasToolFailureIsWarning(t *testing.T) {
	fx := writeFixture(t)
	cfg := testConfig(fx)
	cfg.Atlas.ToolPath = filepath.Join(fx.dir, "no-such-tool")

	report, err := run(t, cfg, fx.out, fx.maps)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.AtlasTool == nil || report.AtlasTool.Err == nil {
		t.Fatal("expected atlas tool failure in report")
	}
	if len(report.TileMaps) != 2 {
		t.Errorf("expected tile-maps despite tool failure, got %v", report.TileMaps)
	}
}

func TestRunAtlasTool(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script tool")
	}
	dir := t.TempDir()
	tool := filepath.Join(dir, "packer.sh")
	script := "#!/bin/sh\necho packing \"$1\"\necho \"$2 $3\" >&2\ntouch \"$3\"\n"
	if err := os.WriteFile(tool, []byte(script), 0755); err != nil {
		t.Fatalf("write tool: %v", err)
	}

	out := filepath.Join(dir, "main.atlas")
	res := RunAtlasTool(context.Background(), tool, "atlas.xml", out, 0)
	if res.Err != nil {
		t.Fatalf("tool failed: %v (stderr %q)", res.Err, res.Stderr)
	}
	if !strings.Contains(res.Stdout, "packing atlas.xml") {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "-o "+out) {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected tool output file: %v", err)
	}
}

func TestRunAtlasTool_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script tool")
	}
	dir := t.TempDir()
	tool := filepath.Join(dir, "slow.sh")
	os.WriteFile(tool, []byte("#!/bin/sh\nexec sleep 5\n"), 0755)

	res := RunAtlasTool(context.Background(), tool, "atlas.xml", "out", 50_000_000)
	if res.Err == nil || !strings.Contains(res.Err.Error(), "timed out") {
		t.Errorf("expected timeout, got %v", res.Err)
	}
}

func TestWriteFile_RemovesPartialOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.bin")
	boom := errors.New("boom")

	err := writeFile(path, func(w io.Writer) error {
		w.Write([]byte("half"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected partial file to be removed, stat err = %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Build.Workers = 0
	if _, err := New(cfg, testRegistry(), nil); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

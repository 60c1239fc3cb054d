package atlas

import (
	"fmt"
	"image"
	"io/fs"

	// Header decoders for every image format a tile-set may reference.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageIssue describes a mismatch between tile-set metadata and the image
// file it points at.
type ImageIssue struct {
	Source string
	Image  string
	Reason string
}

func (i ImageIssue) String() string {
	return fmt.Sprintf("%s (%s): %s", i.Image, i.Source, i.Reason)
}

// VerifyImages decodes the header of every tile-set image that contributed
// sprites and reports images that cannot be read, whose size disagrees with
// the tile-set metadata, or that do not contain all sprite rectangles.
// Image paths are resolved inside fsys. Pixels are never decoded.
func VerifyImages(a *Atlas, fsys fs.FS) []ImageIssue {
	var issues []ImageIssue

	bounds := make(map[string]image.Point, len(a.sheets))
	for _, sheet := range a.sheets {
		ts := sheet.TileSet
		cfg, err := decodeImageConfig(fsys, ts.Image)
		if err != nil {
			issues = append(issues, ImageIssue{Source: sheet.Source, Image: ts.Image, Reason: err.Error()})
			continue
		}
		if (ts.ImageWidth != 0 && ts.ImageWidth != cfg.Width) ||
			(ts.ImageHeight != 0 && ts.ImageHeight != cfg.Height) {
			issues = append(issues, ImageIssue{
				Source: sheet.Source,
				Image:  ts.Image,
				Reason: fmt.Sprintf("metadata says %dx%d, image is %dx%d",
					ts.ImageWidth, ts.ImageHeight, cfg.Width, cfg.Height),
			})
		}
		bounds[sheet.Source] = image.Pt(cfg.Width, cfg.Height)
	}

	for i, s := range a.sprites {
		size, ok := bounds[s.Source]
		if !ok {
			continue
		}
		if s.Left+s.Width > size.X || s.Top+s.Height > size.Y {
			issues = append(issues, ImageIssue{
				Source: s.Source,
				Image:  s.Image,
				Reason: fmt.Sprintf("sprite %d rect (%d,%d %dx%d) exceeds image %dx%d",
					i+1, s.Left, s.Top, s.Width, s.Height, size.X, size.Y),
			})
		}
	}

	return issues
}

func decodeImageConfig(fsys fs.FS, name string) (image.Config, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, fmt.Errorf("decoding header: %w", err)
	}
	return cfg, nil
}

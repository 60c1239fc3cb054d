package atlas

import (
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strconv"
)

type xmlAtlas struct {
	XMLName xml.Name    `xml:"atlas"`
	Sprites []xmlSprite `xml:"sprite"`
}

type xmlSprite struct {
	Source string `xml:"source,attr"`
	Top    string `xml:"top,attr"`
	Left   string `xml:"left,attr"`
	Width  string `xml:"width,attr"`
	Height string `xml:"height,attr"`
	Name   string `xml:"name,attr"`
}

// WriteXML writes the atlas description read by the engine and by the
// offline atlas packer. Image paths are joined onto sourcePrefix and each
// sprite name gets its 0-based position appended.
func WriteXML(w io.Writer, a *Atlas, sourcePrefix string) error {
	doc := xmlAtlas{Sprites: make([]xmlSprite, 0, len(a.sprites))}
	for i, s := range a.sprites {
		src := s.Image
		if sourcePrefix != "" {
			src = path.Join(sourcePrefix, s.Image)
			if sourcePrefix[0] == '.' && src[0] != '.' {
				src = "./" + src
			}
		}
		doc.Sprites = append(doc.Sprites, xmlSprite{
			Source: src,
			Top:    strconv.Itoa(s.Top),
			Left:   strconv.Itoa(s.Left),
			Width:  strconv.Itoa(s.Width),
			Height: strconv.Itoa(s.Height),
			Name:   fmt.Sprintf("%s_%d", s.Name, i),
		})
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", " ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding atlas xml: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

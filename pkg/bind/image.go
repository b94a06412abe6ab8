package bind

import (
	"bytes"
	"image"
	"os"
	"path/filepath"

	// Registered decoders for the formats backends accept.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/promptrun/promptrun/pkg/errs"
)

// ImageData is a binary image attachment with the metadata a multimodal
// request payload needs.
type ImageData struct {
	Filename string
	Format   string // decoder name: "png", "jpeg", "gif"
	Width    int
	Height   int
	Data     []byte
}

// MIME returns the image's media type.
func (d ImageData) MIME() string {
	return "image/" + d.Format
}

// ReadImage canonicalizes path against baseDir, reads the raw bytes, and
// derives format and dimensions from the image header.
func ReadImage(baseDir, path string) (ImageData, error) {
	resolved, err := canonicalPath(baseDir, path)
	if err != nil {
		return ImageData{}, errs.Mark(errs.ErrIO, err, "%s", path)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ImageData{}, errs.Mark(errs.ErrIO, err, "could not read image %s", path)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageData{}, errs.Mark(errs.ErrArgumentParse, err, "could not decode image %s", path)
	}

	return ImageData{
		Filename: filepath.Base(path),
		Format:   format,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Data:     data,
	}, nil
}

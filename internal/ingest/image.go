package ingest

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
)

// imageDimensions returns an uploaded image's pixel dimensions, or (0, 0)
// for a format Go's stdlib decoders don't recognize (e.g. webp) — dimension
// extraction is best-effort per §4.N step 2, not a validation gate.
func imageDimensions(data []byte) (width, height int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// stripJPEGEXIF removes EXIF and other metadata segments from a JPEG by
// decoding and re-encoding the pixel data, the same "drop everything but
// pixels" effect as original_source's ImageProcessor::remove_exif. No EXIF
// library exists anywhere in the example pack, so this uses only the
// stdlib image/jpeg codec; non-JPEG formats and undecodable input are
// passed through unchanged rather than erroring, since EXIF removal is a
// best-effort step, not a validation gate.
func stripJPEGEXIF(data []byte, contentType string) []byte {
	if contentType != "image/jpeg" {
		return data
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: 95}); err != nil {
		return data
	}
	return out.Bytes()
}

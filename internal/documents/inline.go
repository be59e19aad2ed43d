package documents

import (
	"bytes"
	"encoding/base64"

	"github.com/disintegration/imaging"
)

// DataURL encodes data as a data: URL. Images larger than maxDim on either
// side are scaled down first when their format can be re-encoded.
func DataURL(data []byte, contentType string, maxDim int) string {
	if contentType == "" {
		contentType = OctetStream
	}
	if maxDim > 0 && IsImage(contentType) {
		if small, ok := downscale(data, contentType, maxDim); ok {
			data = small
		}
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func downscale(data []byte, contentType string, maxDim int) ([]byte, bool) {
	var format imaging.Format
	switch contentType {
	case "image/jpeg":
		format = imaging.JPEG
	case "image/png":
		format = imaging.PNG
	case "image/gif":
		format = imaging.GIF
	default:
		return nil, false
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, false
	}
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return nil, false
	}
	var out bytes.Buffer
	if err := imaging.Encode(&out, imaging.Fit(img, maxDim, maxDim, imaging.Lanczos), format); err != nil {
		return nil, false
	}
	return out.Bytes(), true
}

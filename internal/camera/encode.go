package camera

import (
	"bytes"
	"image"
	"image/jpeg"
)

// EncodeJPEG renders img at the given quality. Callers pick the quality for
// their wire contract (85 for recognition submits, 90 for face crops).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

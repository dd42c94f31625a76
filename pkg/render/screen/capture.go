package screen

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/sudorandom/geoanim/pkg/monitoring"
)

// captureFrame copies img and encodes it as a PNG in the background.
func (e *Engine) captureFrame(img *ebiten.Image, suffix string, timestamp time.Time) {
	if e.FrameCaptureDir == "" {
		return
	}
	if err := os.MkdirAll(e.FrameCaptureDir, 0o755); err != nil {
		monitoring.Logf("[screen] failed to create capture directory: %v", err)
		return
	}
	path := filepath.Join(e.FrameCaptureDir, captureName(suffix, timestamp))

	rgba := image.NewRGBA(img.Bounds())
	img.ReadPixels(rgba.Pix)

	go func() {
		if err := writePNG(path, rgba); err != nil {
			monitoring.Logf("[screen] capture failed: %v", err)
			return
		}
		monitoring.Logf("[screen] captured frame: %s", path)
	}()
}

func captureName(suffix string, timestamp time.Time) string {
	return fmt.Sprintf("geoanim-%s-%s.png", timestamp.UTC().Format("20060102-150405.000"), suffix)
}

func writePNG(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return png.Encode(f, img)
}

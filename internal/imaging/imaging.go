// Package imaging implements local image post-processing: downscaling
// oversized inputs to the service pixel budget and stamping outputs with a
// semi-transparent watermark.
package imaging

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxPixels is the largest pixel count accepted by the generation service for
// input images. Larger images are downscaled before submission.
const MaxPixels = 1_048_576

// jpegQuality is used when re-encoding downscaled JPEG inputs.
const jpegQuality = 95

// watermarkScale sizes the logo relative to the base image's smaller dimension.
const watermarkScale = 0.14

// watermarkAlpha attenuates the logo's alpha channel.
const watermarkAlpha = 0.25

// EnsurePixelBudget returns the path of an image whose pixel count is within
// MaxPixels. Images already within budget are returned unchanged. Larger
// images are downscaled, preserving aspect ratio, into a sibling copy whose
// path is returned; the original file is left untouched and the caller owns
// the copy. JPEG sources are re-encoded as JPEG, everything else as PNG.
func EnsurePixelBudget(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open image %s: %w", path, err)
	}
	img, format, err := image.Decode(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("failed to decode image %s: %w", path, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w*h <= MaxPixels {
		return path, nil
	}

	ratio := math.Sqrt(float64(MaxPixels) / float64(w*h))
	nw := int(float64(w) * ratio)
	nh := int(float64(h) * ratio)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	slog.Debug("EnsurePixelBudget: downscaling image", "path", path,
		"width", w, "height", h, "newWidth", nw, "newHeight", nh)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)

	ext := ".png"
	if format == "jpeg" {
		ext = ".jpg"
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	resized := filepath.Join(filepath.Dir(path), "resized_"+base+ext)

	out, err := os.Create(resized)
	if err != nil {
		return "", fmt.Errorf("failed to create downscaled copy %s: %w", resized, err)
	}
	if format == "jpeg" {
		err = jpeg.Encode(out, dst, &jpeg.Options{Quality: jpegQuality})
	} else {
		err = png.Encode(out, dst)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(resized)
		return "", fmt.Errorf("failed to encode downscaled copy %s: %w", resized, err)
	}
	return resized, nil
}

// Watermarker stamps a logo onto generated images. The enabled flag can be
// flipped at runtime by admin commands while generation goroutines read it.
type Watermarker struct {
	logoPath string
	enabled  atomic.Bool
}

// NewWatermarker creates a Watermarker using the logo at logoPath, initially
// enabled or disabled per the given flag.
func NewWatermarker(logoPath string, enabled bool) *Watermarker {
	w := &Watermarker{logoPath: logoPath}
	w.enabled.Store(enabled)
	return w
}

// SetEnabled switches watermarking on or off.
func (w *Watermarker) SetEnabled(enabled bool) {
	w.enabled.Store(enabled)
	slog.Info("Watermarker.SetEnabled: watermark flag updated", "enabled", enabled)
}

// Enabled reports whether watermarking is currently on.
func (w *Watermarker) Enabled() bool {
	return w.enabled.Load()
}

// Apply writes the image at srcPath to dstPath with the watermark stamped in
// the bottom-left corner. When watermarking is disabled, the logo file is
// missing, or the image format cannot be re-encoded, the source bytes are
// copied unchanged.
func (w *Watermarker) Apply(srcPath, dstPath string) error {
	if !w.enabled.Load() {
		return copyFile(srcPath, dstPath)
	}
	if _, err := os.Stat(w.logoPath); err != nil {
		slog.Warn("Watermarker.Apply: logo unavailable, copying unmarked", "logo", w.logoPath, "error", err)
		return copyFile(srcPath, dstPath)
	}

	base, format, err := decodeFile(srcPath)
	if err != nil {
		return fmt.Errorf("failed to decode image %s: %w", srcPath, err)
	}
	if format != "jpeg" && format != "png" {
		// No encoder for this format, deliver unmarked.
		slog.Warn("Watermarker.Apply: unsupported output format, copying unmarked", "format", format)
		return copyFile(srcPath, dstPath)
	}
	logo, _, err := decodeFile(w.logoPath)
	if err != nil {
		return fmt.Errorf("failed to decode logo %s: %w", w.logoPath, err)
	}

	stamped := stamp(base, logo)

	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create watermarked image %s: %w", dstPath, err)
	}
	defer out.Close()
	if format == "jpeg" {
		err = jpeg.Encode(out, stamped, &jpeg.Options{Quality: jpegQuality})
	} else {
		err = png.Encode(out, stamped)
	}
	if err != nil {
		return fmt.Errorf("failed to encode watermarked image %s: %w", dstPath, err)
	}
	return nil
}

// stamp draws logo onto base at the bottom-left corner, sized to
// watermarkScale of the smaller base dimension with attenuated alpha.
func stamp(base, logo image.Image) image.Image {
	bb := base.Bounds()
	minDim := bb.Dx()
	if bb.Dy() < minDim {
		minDim = bb.Dy()
	}
	side := int(float64(minDim) * watermarkScale)
	if side < 1 {
		side = 1
	}

	scaled := image.NewNRGBA(image.Rect(0, 0, side, side))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), logo, logo.Bounds(), xdraw.Over, nil)
	for i := 3; i < len(scaled.Pix); i += 4 {
		scaled.Pix[i] = uint8(float64(scaled.Pix[i]) * watermarkAlpha)
	}

	dst := image.NewRGBA(bb)
	xdraw.Draw(dst, bb, base, bb.Min, xdraw.Src)
	pos := image.Rect(bb.Min.X, bb.Max.Y-side, bb.Min.X+side, bb.Max.Y)
	xdraw.Draw(dst, pos, scaled, image.Point{}, xdraw.Over)
	return dst
}

func decodeFile(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	return image.Decode(f)
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer src.Close()
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dstPath, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", srcPath, dstPath, err)
	}
	return nil
}

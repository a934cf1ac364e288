package stability

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/BTreeMap/ImagePipe/internal/imaging"
)

// maxExpansionPerSide is the largest outpaint amount the service accepts on
// any single edge.
const maxExpansionPerSide = 1024

// expansion holds per-edge outpaint amounts in pixels.
type expansion struct {
	Left, Right, Up, Down int
}

// parseAspectRatio converts a "W:H" token into a ratio.
func parseAspectRatio(token string) (float64, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid aspect ratio %q", token)
	}
	w, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid aspect ratio %q: %w", token, err)
	}
	h, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || h == 0 {
		return 0, fmt.Errorf("invalid aspect ratio %q", token)
	}
	return w / h, nil
}

// computeExpansion determines how many pixels to add on each edge so the
// image reaches the target aspect ratio. With the "auto" anchor the expansion
// is centered on the under-sized axis. A named anchor pins the corresponding
// edges: "top" keeps the image at the top and grows downward, "bottom left"
// grows up and to the right, and so on. Per-edge amounts are clamped to the
// service limit and the final pixel count is kept within the submission
// budget.
func computeExpansion(width, height int, targetRatio float64, position string) expansion {
	originalRatio := float64(width) / float64(height)
	var e expansion

	if position == "auto" {
		if targetRatio > originalRatio {
			newWidth := float64(height) * targetRatio
			half := int((newWidth - float64(width)) / 2)
			e.Left, e.Right = half, half
		} else {
			newHeight := float64(width) / targetRatio
			half := int((newHeight - float64(height)) / 2)
			e.Up, e.Down = half, half
		}
	} else {
		var expandH, expandV int
		if targetRatio > originalRatio {
			expandH = int(float64(height)*targetRatio - float64(width))
			if expandH < 0 {
				expandH = 0
			}
		} else {
			expandV = int(float64(width)/targetRatio - float64(height))
			if expandV < 0 {
				expandV = 0
			}
		}

		switch {
		case strings.Contains(position, "top"):
			e.Down = expandV
		case strings.Contains(position, "bottom"):
			e.Up = expandV
		default:
			e.Up = expandV / 2
			e.Down = expandV - e.Up
		}
		switch {
		case strings.Contains(position, "left"):
			e.Right = expandH
		case strings.Contains(position, "right"):
			e.Left = expandH
		default:
			e.Left = expandH / 2
			e.Right = expandH - e.Left
		}
	}

	e.Left = min(e.Left, maxExpansionPerSide)
	e.Right = min(e.Right, maxExpansionPerSide)
	e.Up = min(e.Up, maxExpansionPerSide)
	e.Down = min(e.Down, maxExpansionPerSide)

	finalWidth := width + e.Left + e.Right
	finalHeight := height + e.Up + e.Down
	if finalWidth*finalHeight > imaging.MaxPixels {
		scale := math.Sqrt(float64(imaging.MaxPixels) / float64(finalWidth*finalHeight))
		e.Left = int(float64(e.Left) * scale)
		e.Right = int(float64(e.Right) * scale)
		e.Up = int(float64(e.Up) * scale)
		e.Down = int(float64(e.Down) * scale)
	}
	return e
}

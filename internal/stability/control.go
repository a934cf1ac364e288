package stability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BTreeMap/ImagePipe/internal/imaging"
	"github.com/BTreeMap/ImagePipe/internal/models"
)

// Reimagine transforms the image while preserving its structure or sketch
// lines, per the chosen method. Returns the path of the saved image.
func (c *Client) Reimagine(ctx context.Context, p models.ReimagineParams) (string, error) {
	controlImage, err := imaging.EnsurePixelBudget(p.ControlImage)
	if err != nil {
		return "", err
	}
	if controlImage != p.ControlImage {
		defer os.Remove(controlImage)
	}
	endpoint := "/stable-image/control/structure"
	if p.Method == "sketch" {
		endpoint = "/stable-image/control/sketch"
	}

	format := p.OutputFormat
	if format == "" {
		format = "jpeg"
	}
	fields := map[string]string{
		"control_strength": strconv.FormatFloat(p.ControlStrength, 'f', -1, 64),
		"seed":             strconv.Itoa(p.Seed),
		"output_format":    format,
		"prompt":           p.Prompt,
		"negative_prompt":  p.NegativePrompt,
	}
	if p.Style != "" && p.Style != "None" {
		fields["style_preset"] = p.Style
	}

	body, _, err := c.postForm(ctx, endpoint, "image/*", fields,
		[]formFile{{field: "image", path: controlImage}})
	if err != nil {
		return "", fmt.Errorf("reimagine request failed: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(p.ControlImage), filepath.Ext(p.ControlImage))
	return c.writeOutput(fmt.Sprintf("reimagined_%s_%d.%s", base, p.Seed, format), body)
}

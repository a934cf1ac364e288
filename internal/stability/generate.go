package stability

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BTreeMap/ImagePipe/internal/imaging"
	"github.com/BTreeMap/ImagePipe/internal/models"
)

// defaultStrength is the starting-image influence used when an init image is
// supplied without an explicit strength.
const defaultStrength = 0.75

// defaultControlStrength is used for control-based text-to-image generation.
const defaultControlStrength = 0.7

// artifactsResponse is the JSON shape of synchronous generation endpoints.
type artifactsResponse struct {
	Artifacts []struct {
		Seed   int64  `json:"seed"`
		Base64 string `json:"base64"`
	} `json:"artifacts"`
	Errors []string `json:"errors"`
}

// decodeArtifact extracts the first artifact of a JSON response body.
func decodeArtifact(body []byte) (seed int64, data []byte, err error) {
	var resp artifactsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, nil, fmt.Errorf("failed to parse generation response: %w", err)
	}
	if len(resp.Errors) > 0 {
		return 0, nil, fmt.Errorf("generation response contains errors: %v", resp.Errors)
	}
	if len(resp.Artifacts) == 0 {
		return 0, nil, fmt.Errorf("generation response contains no artifacts")
	}
	data, err = base64.StdEncoding.DecodeString(resp.Artifacts[0].Base64)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to decode artifact image data: %w", err)
	}
	return resp.Artifacts[0].Seed, data, nil
}

// Generate runs a text-to-image request. When p.ControlImage is set the
// control/structure endpoint is used with the image as structural guidance,
// otherwise a plain generation is issued with the explicit dimensions of the
// chosen size preset. Returns the path of the saved image.
func (c *Client) Generate(ctx context.Context, p models.GenerationParams) (string, error) {
	if p.ControlImage != "" {
		return c.generateWithControl(ctx, p)
	}

	fields := map[string]string{
		"prompt":          p.Prompt,
		"negative_prompt": models.DefaultNegativePrompt,
	}
	if dims, ok := models.SizeMapping[p.Size]; ok {
		fields["width"] = strconv.Itoa(dims[0])
		fields["height"] = strconv.Itoa(dims[1])
	}
	if p.Style != "" && p.Style != "None" {
		fields["style_preset"] = p.Style
	}

	body, _, err := c.postForm(ctx, "/stable-image/generate/sd3", "application/json", fields, nil)
	if err != nil {
		return "", fmt.Errorf("generation request failed: %w", err)
	}
	seed, data, err := decodeArtifact(body)
	if err != nil {
		return "", err
	}
	return c.writeOutput(fmt.Sprintf("txt2img_%d.png", seed), data)
}

// generateWithControl issues a control-based generation using the uploaded
// image as structural guidance.
func (c *Client) generateWithControl(ctx context.Context, p models.GenerationParams) (string, error) {
	controlImage, err := imaging.EnsurePixelBudget(p.ControlImage)
	if err != nil {
		return "", err
	}
	if controlImage != p.ControlImage {
		defer os.Remove(controlImage)
	}
	fields := map[string]string{
		"prompt":           p.Prompt,
		"negative_prompt":  models.DefaultNegativePrompt,
		"control_strength": strconv.FormatFloat(defaultControlStrength, 'f', -1, 64),
		"output_format":    "png",
	}
	if p.Style != "" && p.Style != "None" {
		fields["style_preset"] = p.Style
	}

	body, _, err := c.postForm(ctx, "/stable-image/control/structure", "image/*", fields,
		[]formFile{{field: "image", path: controlImage}})
	if err != nil {
		return "", fmt.Errorf("control generation request failed: %w", err)
	}
	return c.writeOutput(fmt.Sprintf("txt2img_ctrl_%d.png", time.Now().Unix()), body)
}

// GenerateUltra runs a generation against the ultra endpoint. An optional
// starting image steers the result with the given strength.
func (c *Client) GenerateUltra(ctx context.Context, p models.UltraParams) (string, error) {
	format := p.OutputFormat
	if format == "" {
		format = "png"
	}
	fields := map[string]string{
		"prompt":          p.Prompt,
		"output_format":   format,
		"negative_prompt": models.DefaultNegativePrompt,
	}
	if p.AspectRatio != "" {
		fields["aspect_ratio"] = p.AspectRatio
	}

	var files []formFile
	if p.Image != "" {
		imagePath, err := imaging.EnsurePixelBudget(p.Image)
		if err != nil {
			return "", err
		}
		if imagePath != p.Image {
			defer os.Remove(imagePath)
		}
		files = append(files, formFile{field: "image", path: imagePath})
		strength := defaultStrength
		if p.Strength != nil {
			strength = *p.Strength
		}
		fields["strength"] = strconv.FormatFloat(strength, 'f', -1, 64)
	}

	body, _, err := c.postForm(ctx, "/stable-image/generate/ultra", "image/*", fields, files)
	if err != nil {
		return "", fmt.Errorf("ultra generation request failed: %w", err)
	}
	return c.writeOutput(fmt.Sprintf("txt2img_v2_%d.%s", time.Now().Unix(), format), body)
}

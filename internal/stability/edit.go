package stability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/BTreeMap/ImagePipe/internal/imaging"
	"github.com/BTreeMap/ImagePipe/internal/models"
)

// Outpaint extends the image to the target aspect ratio around the chosen
// anchor position. A content-filter rejection by the service surfaces as
// ErrContentFiltered.
func (c *Client) Outpaint(ctx context.Context, p models.UncropParams) (string, error) {
	imagePath, err := imaging.EnsurePixelBudget(p.ImagePath)
	if err != nil {
		return "", err
	}
	if imagePath != p.ImagePath {
		defer os.Remove(imagePath)
	}
	// Expansion geometry is computed on the submitted image, not the original.
	width, height, err := imageSize(imagePath)
	if err != nil {
		return "", err
	}
	targetRatio, err := parseAspectRatio(p.TargetAspectRatio)
	if err != nil {
		return "", err
	}
	position := strings.ToLower(strings.TrimSpace(p.Position))
	if position == "" {
		position = "auto"
	}
	e := computeExpansion(width, height, targetRatio, position)
	slog.Info("Client.Outpaint: computed expansion", "left", e.Left, "right", e.Right,
		"up", e.Up, "down", e.Down, "position", position)

	format := p.OutputFormat
	if format == "" {
		format = "png"
	}
	fields := map[string]string{
		"left":          strconv.Itoa(e.Left),
		"right":         strconv.Itoa(e.Right),
		"up":            strconv.Itoa(e.Up),
		"down":          strconv.Itoa(e.Down),
		"prompt":        p.Prompt,
		"creativity":    strconv.FormatFloat(p.Creativity, 'f', -1, 64),
		"seed":          strconv.Itoa(p.Seed),
		"output_format": format,
	}

	body, headers, err := c.postForm(ctx, "/stable-image/edit/outpaint", "image/*", fields,
		[]formFile{{field: "image", path: imagePath}})
	if err != nil {
		return "", fmt.Errorf("outpaint request failed: %w", err)
	}
	if headers.Get("finish-reason") == "CONTENT_FILTERED" {
		return "", ErrContentFiltered
	}

	base := strings.TrimSuffix(filepath.Base(p.ImagePath), filepath.Ext(p.ImagePath))
	return c.writeOutput(fmt.Sprintf("uncrop_%s_%d.%s", base, p.Seed, format), body)
}

// Erase removes the masked region from the image and fills it in.
func (c *Client) Erase(ctx context.Context, p models.EraseParams) (string, error) {
	imagePath, err := imaging.EnsurePixelBudget(p.ImagePath)
	if err != nil {
		return "", err
	}
	if imagePath != p.ImagePath {
		defer os.Remove(imagePath)
	}
	fields := map[string]string{}
	if p.OutputFormat != "" {
		fields["output_format"] = p.OutputFormat
	}

	body, _, err := c.postForm(ctx, "/stable-image/edit/erase", "application/json", fields,
		[]formFile{
			{field: "image", path: imagePath},
			{field: "mask", path: p.MaskPath},
		})
	if err != nil {
		return "", fmt.Errorf("erase request failed: %w", err)
	}
	seed, data, err := decodeArtifact(body)
	if err != nil {
		return "", err
	}
	return c.writeOutput(fmt.Sprintf("erase_%d.png", seed), data)
}

// SearchReplace finds the object described by the search prompt and replaces
// it with the replacement. The service has accepted two parameter spellings
// over time; the combined prompt form is tried first, and when the response
// names the separate search_prompt/replace_prompt fields the request is
// reissued once in that form.
func (c *Client) SearchReplace(ctx context.Context, p models.SearchReplaceParams) (string, error) {
	imagePath, err := imaging.EnsurePixelBudget(p.ImagePath)
	if err != nil {
		return "", err
	}
	if imagePath != p.ImagePath {
		defer os.Remove(imagePath)
	}
	combined := map[string]string{
		"prompt": fmt.Sprintf("Replace %s with %s", p.SearchPrompt, p.ReplacePrompt),
	}

	body, err := c.searchReplaceAttempt(ctx, combined, imagePath)
	if err != nil {
		if !mentionsSeparateFields(err) {
			return "", fmt.Errorf("search and replace request failed: %w", err)
		}
		slog.Info("Client.SearchReplace: retrying with separate prompt fields")
		separate := map[string]string{
			"search_prompt":  p.SearchPrompt,
			"replace_prompt": p.ReplacePrompt,
		}
		body, err = c.searchReplaceAttempt(ctx, separate, imagePath)
		if err != nil {
			return "", fmt.Errorf("search and replace request failed: %w", err)
		}
	}

	seed, data, err := decodeArtifact(body)
	if err != nil {
		return "", err
	}
	return c.writeOutput(fmt.Sprintf("replace_%d.png", seed), data)
}

// searchReplaceAttempt issues one search-and-replace request. A 200 response
// whose body carries an errors list is treated as a failure so the caller can
// fall back to the alternate parameter form.
func (c *Client) searchReplaceAttempt(ctx context.Context, fields map[string]string, imagePath string) ([]byte, error) {
	body, _, err := c.postForm(ctx, "/stable-image/edit/search-and-replace", "application/json", fields,
		[]formFile{{field: "image", path: imagePath}})
	if err != nil {
		return nil, err
	}
	var probe struct {
		Errors []string `json:"errors"`
	}
	if jsonErr := json.Unmarshal(body, &probe); jsonErr == nil && len(probe.Errors) > 0 {
		return nil, &APIError{StatusCode: 200, Body: strings.Join(probe.Errors, "; ")}
	}
	return body, nil
}

// mentionsSeparateFields reports whether the error text references the
// alternate search_prompt/replace_prompt parameter names.
func mentionsSeparateFields(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Transport failure, the alternate form is still worth one try.
		return true
	}
	text := strings.ToLower(apiErr.Body)
	return strings.Contains(text, "search_prompt") || strings.Contains(text, "replace_prompt")
}

// Inpaint fills the masked region of the image per the prompt.
func (c *Client) Inpaint(ctx context.Context, p models.InpaintParams) (string, error) {
	imagePath, err := imaging.EnsurePixelBudget(p.ImagePath)
	if err != nil {
		return "", err
	}
	if imagePath != p.ImagePath {
		defer os.Remove(imagePath)
	}
	fields := map[string]string{"prompt": p.Prompt}
	if p.OutputFormat != "" {
		fields["output_format"] = p.OutputFormat
	}

	body, _, err := c.postForm(ctx, "/stable-image/edit/inpaint", "application/json", fields,
		[]formFile{
			{field: "image", path: imagePath},
			{field: "mask", path: p.MaskPath},
		})
	if err != nil {
		return "", fmt.Errorf("inpaint request failed: %w", err)
	}
	seed, data, err := decodeArtifact(body)
	if err != nil {
		return "", err
	}
	return c.writeOutput(fmt.Sprintf("inpaint_%d.png", seed), data)
}

// imageSize reads the pixel dimensions of the image at path.
func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image dimensions of %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

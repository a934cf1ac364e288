package stability

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/BTreeMap/ImagePipe/internal/imaging"
	"github.com/BTreeMap/ImagePipe/internal/models"
)

// defaultCreativity is used for conservative and creative upscaling when the
// caller supplies no value or an out-of-range one.
const defaultCreativity = 0.35

// resultResponse is the JSON shape of the async results endpoint.
type resultResponse struct {
	Status       string `json:"status"`
	FinishReason string `json:"finish_reason"`
	Output       []struct {
		URL string `json:"url"`
	} `json:"output"`
	Base64    string `json:"base64"`
	Artifacts []struct {
		Base64 string `json:"base64"`
	} `json:"artifacts"`
	Errors []string `json:"errors"`
}

// Upscale enhances the image per the chosen method. Fast and conservative
// upscaling are synchronous; creative upscaling starts an async generation
// that is polled until completion or the poll budget runs out. Returns the
// path of the saved image.
func (c *Client) Upscale(ctx context.Context, p models.UpscaleParams) (string, error) {
	imagePath, err := imaging.EnsurePixelBudget(p.ImagePath)
	if err != nil {
		return "", err
	}
	if imagePath != p.ImagePath {
		defer os.Remove(imagePath)
	}
	format := p.OutputFormat
	if format == "" {
		format = "png"
	}

	fields := map[string]string{"output_format": format}
	accept := "image/*"
	endpoint := "/stable-image/upscale/fast"
	switch p.Method {
	case "conservative", "creative":
		creativity := p.Creativity
		if creativity < 0 || creativity > 1 {
			creativity = defaultCreativity
		}
		fields["prompt"] = p.Prompt
		fields["creativity"] = strconv.FormatFloat(creativity, 'f', -1, 64)
		if p.NegativePrompt != "" {
			fields["negative_prompt"] = p.NegativePrompt
		}
		if p.Method == "creative" {
			endpoint = "/stable-image/upscale/creative"
			accept = "application/json"
			if p.StylePreset != "" && p.StylePreset != "None" {
				fields["style_preset"] = p.StylePreset
			}
		} else {
			endpoint = "/stable-image/upscale/conservative"
		}
	}

	body, _, err := c.postForm(ctx, endpoint, accept, fields,
		[]formFile{{field: "image", path: imagePath}})
	if err != nil {
		return "", fmt.Errorf("upscale request failed: %w", err)
	}

	if p.Method != "creative" {
		return c.writeOutput(fmt.Sprintf("upscaled_%s_%d.%s", p.Method, time.Now().Unix(), format), body)
	}

	var started struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &started); err != nil {
		return "", fmt.Errorf("failed to parse creative upscale response: %w", err)
	}
	if started.ID == "" {
		return "", fmt.Errorf("creative upscale response contains no generation id")
	}
	slog.Info("Client.Upscale: creative upscale started", "generationID", started.ID)
	return c.pollResult(ctx, started.ID, p.Method, format)
}

// pollResult polls the async results endpoint until the generation finishes,
// fails, or the poll budget is exhausted.
func (c *Client) pollResult(ctx context.Context, generationID, method, format string) (string, error) {
	url := fmt.Sprintf("%s/results/%s", c.baseURL, generationID)
	deadline := time.Now().Add(c.maxPollWait)
	for {
		body, _, status, err := c.getJSON(ctx, url)
		if err != nil {
			return "", fmt.Errorf("result poll failed: %w", err)
		}
		if status == http.StatusAccepted {
			if time.Now().After(deadline) {
				return "", fmt.Errorf("generation %s did not finish within %s", generationID, c.maxPollWait)
			}
			slog.Debug("Client.pollResult: generation in progress", "generationID", generationID)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.pollInterval):
			}
			continue
		}

		var result resultResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("failed to parse result response: %w", err)
		}
		if result.Status != "succeeded" && result.FinishReason != "SUCCESS" {
			return "", fmt.Errorf("generation %s finished unsuccessfully: status=%s finishReason=%s errors=%v",
				generationID, result.Status, result.FinishReason, result.Errors)
		}
		return c.saveResult(ctx, &result, method, format)
	}
}

// saveResult extracts the finished image from a successful result payload.
// The image may arrive as a download URL, an inline base64 field, or a legacy
// artifacts list.
func (c *Client) saveResult(ctx context.Context, result *resultResponse, method, format string) (string, error) {
	if len(result.Output) > 0 && result.Output[0].URL != "" {
		data, err := c.download(ctx, result.Output[0].URL)
		if err != nil {
			return "", err
		}
		return c.writeOutput(fmt.Sprintf("upscaled_%s_%d.%s", method, time.Now().Unix(), format), data)
	}

	raw := result.Base64
	label := "raw"
	if raw == "" && len(result.Artifacts) > 0 {
		raw = result.Artifacts[0].Base64
		label = "artifacts_raw"
	}
	if raw == "" {
		return "", fmt.Errorf("result contains no image url or base64 data")
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// Keep the undecodable payload around for manual recovery.
		path, werr := c.writeOutput(fmt.Sprintf("upscaled_%s_%s_base64.txt", method, label), []byte(raw))
		if werr != nil {
			slog.Error("Client.saveResult: failed to save undecodable payload", "error", werr)
		} else {
			slog.Warn("Client.saveResult: saved undecodable base64 payload", "path", path)
		}
		return "", fmt.Errorf("failed to decode result image data: %w", err)
	}
	return c.writeOutput(fmt.Sprintf("upscaled_%s_%d.%s", method, time.Now().Unix(), format), data)
}

// download fetches a finished image from the URL given by the results
// endpoint.
func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read downloaded image: %w", err)
	}
	return data, nil
}

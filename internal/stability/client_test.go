package stability

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/ImagePipe/internal/imaging"
	"github.com/BTreeMap/ImagePipe/internal/models"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient("test-key",
		WithBaseURL(serverURL),
		WithOutputDir(t.TempDir()),
		WithRetryDelay(time.Millisecond),
		WithPollInterval(5*time.Millisecond),
		WithMaxPollWait(time.Second),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func writeTestImage(t *testing.T, w, h int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.png")
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test image: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return path
}

func artifactsJSON(seed int64) string {
	payload := base64.StdEncoding.EncodeToString([]byte("image-bytes"))
	return fmt.Sprintf(`{"artifacts":[{"seed":%d,"base64":"%s"}]}`, seed, payload)
}

func TestGenerateSendsDimensionsAndOmitsNoneStyle(t *testing.T) {
	var gotPrompt, gotWidth, gotHeight string
	var styleSet bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}
		gotPrompt = r.FormValue("prompt")
		gotWidth = r.FormValue("width")
		gotHeight = r.FormValue("height")
		_, styleSet = r.MultipartForm.Value["style_preset"]
		fmt.Fprint(w, artifactsJSON(42))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	path, err := c.Generate(context.Background(), models.GenerationParams{
		Prompt: "a red fox",
		Size:   "square",
		Style:  "None",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if gotPrompt != "a red fox" {
		t.Errorf("prompt = %q, want %q", gotPrompt, "a red fox")
	}
	if gotWidth != "1024" || gotHeight != "1024" {
		t.Errorf("dimensions = %sx%s, want 1024x1024", gotWidth, gotHeight)
	}
	if styleSet {
		t.Error("expected style_preset to be omitted for None")
	}
	if data, err := os.ReadFile(path); err != nil || string(data) != "image-bytes" {
		t.Errorf("expected decoded artifact written to %s", path)
	}
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, artifactsJSON(7))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Generate(context.Background(), models.GenerationParams{Prompt: "x", Size: "square"}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Generate(context.Background(), models.GenerationParams{Prompt: "x", Size: "square"})
	if err == nil {
		t.Fatal("expected error for 4xx response")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected APIError with status 400, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt for a 4xx response, got %d", calls)
	}
}

func TestSearchReplaceFallsBackToSeparateFields(t *testing.T) {
	var calls int
	var secondSearch, secondReplace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}
		if calls == 1 {
			fmt.Fprint(w, `{"errors":["the prompt field is not supported, use search_prompt and replace_prompt"]}`)
			return
		}
		secondSearch = r.FormValue("search_prompt")
		secondReplace = r.FormValue("replace_prompt")
		fmt.Fprint(w, artifactsJSON(9))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.SearchReplace(context.Background(), models.SearchReplaceParams{
		ImagePath:     writeTestImage(t, 64, 64),
		SearchPrompt:  "a dog",
		ReplacePrompt: "a cat",
	})
	if err != nil {
		t.Fatalf("SearchReplace() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
	if secondSearch != "a dog" || secondReplace != "a cat" {
		t.Errorf("fallback fields = (%q, %q), want (a dog, a cat)", secondSearch, secondReplace)
	}
}

func TestSearchReplaceNoFallbackForUnrelatedErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "image too large", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.SearchReplace(context.Background(), models.SearchReplaceParams{
		ImagePath:     writeTestImage(t, 64, 64),
		SearchPrompt:  "a dog",
		ReplacePrompt: "a cat",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestUpscaleCreativePollsUntilSuccess(t *testing.T) {
	var polls int
	mux := http.NewServeMux()
	mux.HandleFunc("/stable-image/upscale/creative", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"gen-123"}`)
	})
	mux.HandleFunc("/results/gen-123", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 3 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		resp := map[string]any{
			"finish_reason": "SUCCESS",
			"artifacts": []map[string]string{
				{"base64": base64.StdEncoding.EncodeToString([]byte("upscaled-bytes"))},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	path, err := c.Upscale(context.Background(), models.UpscaleParams{
		ImagePath:    writeTestImage(t, 64, 64),
		OutputFormat: "png",
		Method:       "creative",
		Prompt:       "sharpen",
		Creativity:   0.35,
		StylePreset:  "None",
	})
	if err != nil {
		t.Fatalf("Upscale() error = %v", err)
	}
	if polls != 3 {
		t.Errorf("expected 3 polls, got %d", polls)
	}
	if data, err := os.ReadFile(path); err != nil || string(data) != "upscaled-bytes" {
		t.Errorf("expected upscaled image written to %s", path)
	}
}

func TestUpscaleCreativePollBudgetExhausted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stable-image/upscale/creative", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"gen-456"}`)
	})
	mux.HandleFunc("/results/gen-456", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClient("test-key",
		WithBaseURL(srv.URL),
		WithOutputDir(t.TempDir()),
		WithRetryDelay(time.Millisecond),
		WithPollInterval(time.Millisecond),
		WithMaxPollWait(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	_, err = c.Upscale(context.Background(), models.UpscaleParams{
		ImagePath:    writeTestImage(t, 64, 64),
		OutputFormat: "png",
		Method:       "creative",
		Prompt:       "sharpen",
	})
	if err == nil {
		t.Fatal("expected poll budget error")
	}
}

func TestUpscaleCreativeKeepsUndecodablePayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stable-image/upscale/creative", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"gen-789"}`)
	})
	mux.HandleFunc("/results/gen-789", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"succeeded","base64":"%%%not-base64%%%"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	outputDir := t.TempDir()
	c, err := NewClient("test-key",
		WithBaseURL(srv.URL),
		WithOutputDir(outputDir),
		WithRetryDelay(time.Millisecond),
		WithPollInterval(time.Millisecond),
		WithMaxPollWait(time.Second),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = c.Upscale(context.Background(), models.UpscaleParams{
		ImagePath:    writeTestImage(t, 64, 64),
		OutputFormat: "png",
		Method:       "creative",
		Prompt:       "sharpen",
	})
	if err == nil {
		t.Fatal("expected decode error for undecodable payload")
	}

	data, readErr := os.ReadFile(filepath.Join(outputDir, "upscaled_creative_raw_base64.txt"))
	if readErr != nil {
		t.Fatalf("expected the raw payload to be kept for recovery: %v", readErr)
	}
	if string(data) != "%%%not-base64%%%" {
		t.Errorf("recovery file content = %q, want the raw payload", data)
	}
}

func TestEraseUploadsDownscaledCopyAndKeepsOriginal(t *testing.T) {
	var uploadedW, uploadedH int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		f, _, err := r.FormFile("image")
		if err != nil {
			t.Errorf("missing image part: %v", err)
		} else {
			img, _, derr := image.Decode(f)
			f.Close()
			if derr != nil {
				t.Errorf("failed to decode uploaded image: %v", derr)
			} else {
				uploadedW, uploadedH = img.Bounds().Dx(), img.Bounds().Dy()
			}
		}
		fmt.Fprint(w, artifactsJSON(7))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	imagePath := writeTestImage(t, 2000, 2000)
	maskPath := writeTestImage(t, 64, 64)

	if _, err := c.Erase(context.Background(), models.EraseParams{ImagePath: imagePath, MaskPath: maskPath}); err != nil {
		t.Fatalf("Erase() error = %v", err)
	}

	if uploadedW*uploadedH > imaging.MaxPixels {
		t.Errorf("uploaded image exceeds pixel budget: %dx%d", uploadedW, uploadedH)
	}
	in, err := os.Open(imagePath)
	if err != nil {
		t.Fatalf("failed to reopen input: %v", err)
	}
	orig, _, err := image.Decode(in)
	in.Close()
	if err != nil {
		t.Fatalf("failed to decode input: %v", err)
	}
	if w, h := orig.Bounds().Dx(), orig.Bounds().Dy(); w != 2000 || h != 2000 {
		t.Errorf("original input mutated to %dx%d", w, h)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(imagePath), "resized_input.png")); !os.IsNotExist(err) {
		t.Error("expected the downscaled copy to be removed after the request")
	}
}

func TestOutpaintContentFiltered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("finish-reason", "CONTENT_FILTERED")
		w.Write([]byte("blurred"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Outpaint(context.Background(), models.UncropParams{
		ImagePath:         writeTestImage(t, 100, 100),
		TargetAspectRatio: "16:9",
		Position:          "auto",
	})
	if !errors.Is(err, ErrContentFiltered) {
		t.Errorf("expected ErrContentFiltered, got %v", err)
	}
}

func TestUpscaleFastSavesRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fast-bytes"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	path, err := c.Upscale(context.Background(), models.UpscaleParams{
		ImagePath:    writeTestImage(t, 64, 64),
		OutputFormat: "webp",
		Method:       "fast",
	})
	if err != nil {
		t.Fatalf("Upscale() error = %v", err)
	}
	if data, err := os.ReadFile(path); err != nil || string(data) != "fast-bytes" {
		t.Errorf("expected raw body written to %s", path)
	}
}

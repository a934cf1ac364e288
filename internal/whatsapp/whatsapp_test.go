package whatsapp

import "testing"

func TestMimeTypeForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"output/txt2img_42.png", "image/png"},
		{"photo.JPG", "image/jpeg"},
		{"photo.jpeg", "image/jpeg"},
		{"upscaled_fast.webp", "image/webp"},
		{"result.bin", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := mimeTypeForPath(tt.path); got != tt.want {
			t.Errorf("mimeTypeForPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestOptions(t *testing.T) {
	var cfg Opts
	for _, opt := range []Option{
		WithDBDSN("postgres://host/db"),
		WithQRCodeOutput("/tmp/qr.txt"),
		WithNumericCode(),
	} {
		opt(&cfg)
	}
	if cfg.DBDSN != "postgres://host/db" || cfg.QRPath != "/tmp/qr.txt" || !cfg.NumericCode {
		t.Errorf("unexpected options: %+v", cfg)
	}
}

func TestValidateSendRejectsUninitializedClient(t *testing.T) {
	c := &Client{}
	if err := c.validateSend("15551234567"); err == nil {
		t.Error("expected error for uninitialized client")
	}
}

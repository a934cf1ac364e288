package stability

import "testing"

func TestParseAspectRatio(t *testing.T) {
	tests := []struct {
		token   string
		want    float64
		wantErr bool
	}{
		{"16:9", 16.0 / 9.0, false},
		{"1:1", 1.0, false},
		{"9:21", 9.0 / 21.0, false},
		{"banana", 0, true},
		{"4:0", 0, true},
		{"4", 0, true},
	}
	for _, tt := range tests {
		got, err := parseAspectRatio(tt.token)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseAspectRatio(%q) error = %v, wantErr %v", tt.token, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseAspectRatio(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestComputeExpansionAutoWidens(t *testing.T) {
	e := computeExpansion(100, 100, 2.0, "auto")

	if e.Left != 50 || e.Right != 50 {
		t.Errorf("expected 50px on each horizontal edge, got left=%d right=%d", e.Left, e.Right)
	}
	if e.Up != 0 || e.Down != 0 {
		t.Errorf("expected no vertical expansion, got up=%d down=%d", e.Up, e.Down)
	}
}

func TestComputeExpansionAutoHeightens(t *testing.T) {
	e := computeExpansion(100, 100, 0.5, "auto")

	if e.Up != 50 || e.Down != 50 {
		t.Errorf("expected 50px on each vertical edge, got up=%d down=%d", e.Up, e.Down)
	}
	if e.Left != 0 || e.Right != 0 {
		t.Errorf("expected no horizontal expansion, got left=%d right=%d", e.Left, e.Right)
	}
}

func TestComputeExpansionTopAnchorGrowsDown(t *testing.T) {
	e := computeExpansion(100, 100, 0.5, "top")

	if e.Up != 0 {
		t.Errorf("expected top edge pinned, got up=%d", e.Up)
	}
	if e.Down != 100 {
		t.Errorf("expected all vertical expansion below, got down=%d", e.Down)
	}
}

func TestComputeExpansionBottomLeftAnchor(t *testing.T) {
	e := computeExpansion(100, 100, 2.0, "bottom left")

	if e.Left != 0 || e.Right != 100 {
		t.Errorf("expected left edge pinned, got left=%d right=%d", e.Left, e.Right)
	}
	if e.Down != 0 {
		t.Errorf("expected bottom edge pinned, got down=%d", e.Down)
	}
}

func TestComputeExpansionClampsPerSide(t *testing.T) {
	e := computeExpansion(900, 900, 21.0/9.0, "left")

	if e.Right > maxExpansionPerSide {
		t.Errorf("expected per-side clamp at %d, got right=%d", maxExpansionPerSide, e.Right)
	}
}

func TestComputeExpansionRespectsPixelBudget(t *testing.T) {
	e := computeExpansion(1000, 1000, 2.0, "auto")

	// The raw expansion would push the result past the submission budget, so
	// the amounts must shrink proportionally.
	if e.Left >= 500 || e.Right >= 500 {
		t.Errorf("expected budget-scaled expansion, got left=%d right=%d", e.Left, e.Right)
	}
	if e.Left != e.Right {
		t.Errorf("expected symmetric auto expansion, got left=%d right=%d", e.Left, e.Right)
	}
}

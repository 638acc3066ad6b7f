package renderer

import (
	"math"
	"testing"
)

func TestFitScale(t *testing.T) {
	tests := []struct {
		name         string
		tw, th       float32
		vw, vh       float32
		wantX, wantY float32
	}{
		{"square in square", 64, 64, 800, 800, 0.9, 0.9},
		{"wide in square", 128, 64, 800, 800, 0.9, 0.45},
		{"tall in wide", 64, 128, 1600, 800, 0.225, 0.9},
		{"degenerate", 0, 64, 800, 600, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := FitScale(tt.tw, tt.th, tt.vw, tt.vh)
			if math.Abs(float64(x-tt.wantX)) > 1e-5 || math.Abs(float64(y-tt.wantY)) > 1e-5 {
				t.Errorf("FitScale = (%v, %v), want (%v, %v)", x, y, tt.wantX, tt.wantY)
			}
		})
	}
}

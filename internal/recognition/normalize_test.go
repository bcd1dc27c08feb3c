package recognition

import (
	"errors"
	"math"
	"testing"
)

func TestNormalize_Shape(t *testing.T) {
	tests := []struct {
		name   string
		rawLen int
		dim    int
	}{
		{"empty", 0, 8},
		{"shorter", 3, 8},
		{"equal", 8, 8},
		{"longer", 20, 8},
		{"typical facenet", 128, 512},
		{"typical arcface", 512, 512},
		{"oversized", 2048, 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := make([]float32, tt.rawLen)
			for i := range raw {
				raw[i] = float32(i + 1)
			}
			got := Normalize(raw, tt.dim)
			if len(got) != tt.dim {
				t.Errorf("len(Normalize(%d elems, %d)) = %d, want %d", tt.rawLen, tt.dim, len(got), tt.dim)
			}
		})
	}
}

func TestNormalize_EqualLengthPassesThrough(t *testing.T) {
	raw := []float32{0.5, -1.25, 3, 0, 7.75}

	got := Normalize(raw, len(raw))

	for i := range raw {
		if got[i] != raw[i] {
			t.Errorf("Normalize()[%d] = %v, want %v", i, got[i], raw[i])
		}
	}

	// Result must be a copy.
	got[0] = 99
	if raw[0] == 99 {
		t.Error("Normalize() aliases its input")
	}
}

func TestNormalize_Truncates(t *testing.T) {
	raw := []float32{1, 2, 3, 4, 5}

	got := Normalize(raw, 3)

	want := []float32{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Normalize()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNormalize_PadsWithZeros(t *testing.T) {
	raw := []float32{1, 2}

	got := Normalize(raw, 5)

	want := []float32{1, 2, 0, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Normalize()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNormalize_NilYieldsZeroSentinel(t *testing.T) {
	got := Normalize(nil, 16)

	if len(got) != 16 {
		t.Fatalf("len = %d, want 16", len(got))
	}
	if !got.IsZero() {
		t.Errorf("Normalize(nil) = %v, want zero embedding", got)
	}
}

func TestNormalizeFloat64(t *testing.T) {
	got := NormalizeFloat64([]float64{0.25, 0.5, 0.75}, 4)

	want := Embedding{0.25, 0.5, 0.75, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NormalizeFloat64()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestZeroEmbedding_NegativeDim(t *testing.T) {
	if got := ZeroEmbedding(-3); len(got) != 0 {
		t.Errorf("ZeroEmbedding(-3) has length %d, want 0", len(got))
	}
}

func TestUnitNormalize(t *testing.T) {
	e := Embedding{3, 4}

	got := UnitNormalize(e)

	if math.Abs(got.Norm()-1) > 1e-6 {
		t.Errorf("norm = %v, want 1", got.Norm())
	}
	if math.Abs(float64(got[0])-0.6) > 1e-6 || math.Abs(float64(got[1])-0.8) > 1e-6 {
		t.Errorf("UnitNormalize(%v) = %v, want [0.6 0.8]", e, got)
	}
	if e[0] != 3 {
		t.Error("UnitNormalize() modified its input")
	}
}

func TestUnitNormalize_ZeroStaysZero(t *testing.T) {
	got := UnitNormalize(ZeroEmbedding(4))
	if !got.IsZero() {
		t.Errorf("UnitNormalize(zero) = %v, want zero", got)
	}
}

func TestValidate(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name    string
		e       Embedding
		dim     int
		wantErr bool
	}{
		{"valid", Embedding{0.6, 0.8, 0}, 3, false},
		{"wrong size", Embedding{0.6, 0.8}, 3, true},
		{"nan", Embedding{nan, 0.8, 0}, 3, true},
		{"inf", Embedding{inf, 0.8, 0}, 3, true},
		{"all zeros", Embedding{0, 0, 0}, 3, true},
		{"tiny norm", Embedding{0.01, 0.01, 0}, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.e, tt.dim)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var qe *QualityError
				if !errors.As(err, &qe) {
					t.Errorf("expected *QualityError, got %T", err)
				}
			}
		})
	}
}

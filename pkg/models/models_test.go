package models

import (
	"errors"
	"testing"
)

func TestOutputFormat_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		format OutputFormat
		want   bool
	}{
		{"valid png", FormatPNG, true},
		{"valid jpeg", FormatJPEG, true},
		{"valid webp", FormatWebP, true},
		{"invalid format", OutputFormat("gif"), false},
		{"empty format", OutputFormat(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.IsValid(); got != tt.want {
				t.Errorf("OutputFormat.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewRequest(t *testing.T) {
	req := NewRequest("a lighthouse")

	if req.Prompt != "a lighthouse" {
		t.Errorf("NewRequest().Prompt = %v, want %v", req.Prompt, "a lighthouse")
	}
	if req.Iterations != 1 {
		t.Errorf("NewRequest().Iterations = %v, want 1", req.Iterations)
	}
	if req.Seed != RandomSeed {
		t.Errorf("NewRequest().Seed = %v, want %v", req.Seed, RandomSeed)
	}
	if req.HasInitImage() {
		t.Error("NewRequest().HasInitImage() = true, want false")
	}
}

func TestRequest_TotalSteps(t *testing.T) {
	tests := []struct {
		name      string
		steps     int
		strength  float64
		initImage string
		want      int
	}{
		{"no seed image", 50, 0.75, "", 50},
		{"no seed image ignores strength", 20, 0.1, "", 20},
		{"seed image", 50, 0.75, "data:image/png;base64,AAAA", 37},
		{"seed image exact", 40, 0.5, "data:image/png;base64,AAAA", 20},
		{"seed image zero strength", 50, 0, "data:image/png;base64,AAAA", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRequest("p")
			req.Steps = tt.steps
			req.Strength = tt.strength
			req.InitImage = tt.initImage
			if got := req.TotalSteps(); got != tt.want {
				t.Errorf("TotalSteps() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRequest_Validate(t *testing.T) {
	samplers := DefaultSamplers()

	tests := []struct {
		name    string
		modify  func(*Request)
		wantErr error
	}{
		{"valid defaults", func(r *Request) {}, nil},
		{"empty prompt", func(r *Request) { r.Prompt = "" }, ErrEmptyPrompt},
		{"zero iterations", func(r *Request) { r.Iterations = 0 }, ErrInvalidIterations},
		{"zero steps", func(r *Request) { r.Steps = 0 }, ErrInvalidSteps},
		{"zero cfg", func(r *Request) { r.CfgScale = 0 }, ErrInvalidCfgScale},
		{"unknown sampler", func(r *Request) { r.SamplerName = "euler_magic" }, ErrInvalidSampler},
		{"odd width", func(r *Request) { r.Width = 500 }, ErrInvalidSize},
		{"strength too high", func(r *Request) { r.Strength = 1.5 }, ErrInvalidStrength},
		{"negative variation", func(r *Request) { r.VariationAmount = -0.1 }, ErrInvalidVariationAmount},
		{"bad chain", func(r *Request) { r.WithVariations = "42" }, ErrInvalidChain},
		{"valid chain", func(r *Request) { r.WithVariations = "42:0.3,7:0.1" }, nil},
		{"seed image without name", func(r *Request) { r.InitImage = "data:image/png;base64,AA" }, ErrNoInitImageName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRequest("a prompt")
			tt.modify(req)
			err := req.Validate(samplers)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSamplerRegistry(t *testing.T) {
	r := DefaultSamplers()

	if _, ok := r.Get("k_lms"); !ok {
		t.Error("Get(k_lms) not found")
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("Get(nope) found, want missing")
	}

	names := r.List()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("List() not sorted: %v", names)
			break
		}
	}
}

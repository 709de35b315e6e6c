package models

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/manash/seedgraph/internal/chain"
)

var (
	ErrEmptyPrompt            = errors.New("prompt cannot be empty")
	ErrInvalidSteps           = errors.New("steps must be at least 1")
	ErrInvalidIterations      = errors.New("iterations must be at least 1")
	ErrInvalidCfgScale        = errors.New("cfg scale must be greater than 0")
	ErrInvalidSampler         = errors.New("unknown sampler")
	ErrInvalidStrength        = errors.New("strength must be between 0 and 1")
	ErrInvalidVariationAmount = errors.New("variation amount must be between 0 and 1")
	ErrInvalidSize            = errors.New("width and height must be positive multiples of 64")
	ErrInvalidChain           = errors.New("invalid variation chain")
	ErrNoInitImageName        = errors.New("seed image requires a filename")
)

// RandomSeed asks the backend to pick a seed.
const RandomSeed int64 = -1

type OutputFormat string

const (
	FormatPNG  OutputFormat = "png"
	FormatJPEG OutputFormat = "jpeg"
	FormatWebP OutputFormat = "webp"
)

func ValidFormats() []OutputFormat {
	return []OutputFormat{FormatPNG, FormatJPEG, FormatWebP}
}

func (f OutputFormat) IsValid() bool {
	return slices.Contains(ValidFormats(), f)
}

func (f OutputFormat) String() string {
	return string(f)
}

// Request is one submission to the dream server. Field names on the wire
// mirror the web form.
type Request struct {
	Prompt           string  `json:"prompt"`
	Iterations       int     `json:"iterations"`
	Steps            int     `json:"steps"`
	CfgScale         float64 `json:"cfg_scale"`
	SamplerName      string  `json:"sampler_name"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	Seed             int64   `json:"seed"`
	Strength         float64 `json:"strength"`
	VariationAmount  float64 `json:"variation_amount"`
	WithVariations   string  `json:"with_variations"`
	FacetoolStrength float64 `json:"facetool_strength,omitempty"`
	Upscale          string  `json:"upscale,omitempty"`
	InitImage        string  `json:"initimg,omitempty"`
	InitImageName    string  `json:"initimg_name,omitempty"`
}

func NewRequest(prompt string) *Request {
	return &Request{
		Prompt:      prompt,
		Iterations:  1,
		Steps:       50,
		CfgScale:    7.5,
		SamplerName: "k_lms",
		Width:       512,
		Height:      512,
		Seed:        RandomSeed,
		Strength:    0.75,
	}
}

// HasInitImage reports whether a seed image was supplied.
func (r *Request) HasInitImage() bool {
	return r.InitImage != ""
}

// TotalSteps is the step count the backend reports progress against. With a
// seed image only floor(strength*steps) denoising steps run.
func (r *Request) TotalSteps() int {
	if r.HasInitImage() {
		return int(math.Floor(r.Strength * float64(r.Steps)))
	}
	return r.Steps
}

type SamplerRegistry struct {
	samplers map[string]string
}

func NewSamplerRegistry() *SamplerRegistry {
	return &SamplerRegistry{
		samplers: make(map[string]string),
	}
}

func (r *SamplerRegistry) Register(name, description string) {
	r.samplers[name] = description
}

func (r *SamplerRegistry) Get(name string) (string, bool) {
	desc, ok := r.samplers[name]
	return desc, ok
}

func (r *SamplerRegistry) List() []string {
	names := make([]string, 0, len(r.samplers))
	for name := range r.samplers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func DefaultSamplers() *SamplerRegistry {
	r := NewSamplerRegistry()
	r.Register("ddim", "DDIM")
	r.Register("plms", "PLMS")
	r.Register("k_lms", "K-LMS")
	r.Register("k_dpm_2", "K-DPM2")
	r.Register("k_dpm_2_a", "K-DPM2 ancestral")
	r.Register("k_euler", "K-Euler")
	r.Register("k_euler_a", "K-Euler ancestral")
	r.Register("k_heun", "K-Heun")
	return r
}

// Validate checks a request against the samplers the server knows.
func (r *Request) Validate(samplers *SamplerRegistry) error {
	if r.Prompt == "" {
		return ErrEmptyPrompt
	}

	if r.Iterations < 1 {
		return ErrInvalidIterations
	}

	if r.Steps < 1 {
		return ErrInvalidSteps
	}

	if r.CfgScale <= 0 {
		return ErrInvalidCfgScale
	}

	if samplers != nil {
		if _, ok := samplers.Get(r.SamplerName); !ok {
			return fmt.Errorf("%w: %q not in %v", ErrInvalidSampler, r.SamplerName, samplers.List())
		}
	}

	if r.Width <= 0 || r.Height <= 0 || r.Width%64 != 0 || r.Height%64 != 0 {
		return fmt.Errorf("%w: got %dx%d", ErrInvalidSize, r.Width, r.Height)
	}

	if r.Strength < 0 || r.Strength > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidStrength, r.Strength)
	}

	if r.VariationAmount < 0 || r.VariationAmount > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidVariationAmount, r.VariationAmount)
	}

	if _, err := chain.Decode(r.WithVariations); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}

	if r.HasInitImage() && r.InitImageName == "" {
		return ErrNoInitImageName
	}

	return nil
}

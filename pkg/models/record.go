package models

import (
	"encoding/json"

	"github.com/manash/seedgraph/internal/chain"
)

// GenerationConfig is the configuration the server echoes back with every
// result and stores in its run log. It mirrors the submitted form.
type GenerationConfig struct {
	Prompt          string  `json:"prompt"`
	Steps           int     `json:"steps"`
	CfgScale        float64 `json:"cfg_scale"`
	SamplerName     string  `json:"sampler_name"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	Seed            int64   `json:"seed"`
	Strength        float64 `json:"strength,omitempty"`
	VariationAmount float64 `json:"variation_amount"`
	WithVariations  string  `json:"with_variations"`
	InitImageName   string  `json:"initimg_name,omitempty"`
}

// Output is a produced artifact as the server reports it, both in result
// events and in run log entries.
type Output struct {
	URL    string           `json:"url"`
	Seed   int64            `json:"seed"`
	Config GenerationConfig `json:"config"`
}

// GenerationRecord is one row of generation history.
type GenerationRecord struct {
	URL             string  `json:"url"`
	Seed            int64   `json:"seed"`
	Prompt          string  `json:"prompt"`
	SamplerName     string  `json:"sampler_name"`
	Steps           int     `json:"steps"`
	CfgScale        float64 `json:"cfg_scale"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	WithVariations  string  `json:"with_variations"`
	VariationAmount float64 `json:"variation_amount"`
	BaseSeed        int64   `json:"base_seed"`
}

// NewRecord normalizes a server output into a history record. When the
// output carries variations its base seed is the pre-variation seed from the
// config; otherwise it is the output's own seed.
func NewRecord(out Output) GenerationRecord {
	rec := GenerationRecord{
		URL:             out.URL,
		Seed:            out.Seed,
		Prompt:          out.Config.Prompt,
		SamplerName:     out.Config.SamplerName,
		Steps:           out.Config.Steps,
		CfgScale:        out.Config.CfgScale,
		Width:           out.Config.Width,
		Height:          out.Config.Height,
		WithVariations:  out.Config.WithVariations,
		VariationAmount: out.Config.VariationAmount,
		BaseSeed:        out.Seed,
	}
	if out.Config.WithVariations != "" || out.Config.VariationAmount > 0 {
		rec.BaseSeed = out.Config.Seed
	}
	return rec
}

// IsVariation reports whether the record was produced as a variation.
func (r *GenerationRecord) IsVariation() bool {
	return r.WithVariations != "" || r.VariationAmount > 0
}

// DisplayChain is the record's chain including its own variation step, which
// the server does not persist in with_variations.
func (r *GenerationRecord) DisplayChain() string {
	if r.VariationAmount > 0 {
		return chain.AppendAnchored(r.WithVariations, r.Seed, r.VariationAmount)
	}
	return r.WithVariations
}

// RestoreRequest rebuilds the form that would regenerate this image.
func (r *GenerationRecord) RestoreRequest() *Request {
	req := NewRequest(r.Prompt)
	req.Seed = r.BaseSeed
	req.WithVariations = r.DisplayChain()
	if r.SamplerName != "" {
		req.SamplerName = r.SamplerName
	}
	if r.Steps > 0 {
		req.Steps = r.Steps
	}
	if r.CfgScale > 0 {
		req.CfgScale = r.CfgScale
	}
	if r.Width > 0 {
		req.Width = r.Width
	}
	if r.Height > 0 {
		req.Height = r.Height
	}
	return req
}

// VariationRequest builds a request for a new variation of this image at the
// given strength.
func (r *GenerationRecord) VariationRequest(amount float64) *Request {
	req := r.RestoreRequest()
	req.VariationAmount = amount
	return req
}

func (r *GenerationRecord) ToJSON() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// RunLogEntry is one run log item. The server stores the submitted config
// flattened next to the artifact url; older logs nest it under "config".
type RunLogEntry struct {
	GenerationConfig
	URL    string            `json:"url"`
	Config *GenerationConfig `json:"config,omitempty"`
}

// Record normalizes the entry. Flat fields win; the nested config is only
// read when the entry carries no flat prompt.
func (e RunLogEntry) Record() GenerationRecord {
	if e.Config != nil && e.Prompt == "" {
		return NewRecord(Output{URL: e.URL, Seed: e.Seed, Config: *e.Config})
	}
	return NewRecord(Output{URL: e.URL, Seed: e.Seed, Config: e.GenerationConfig})
}

// RunLog is the history document served by the dream server.
type RunLog struct {
	Entries []RunLogEntry `json:"run_log"`
}

// Records converts every run log entry, preserving order.
func (l *RunLog) Records() []GenerationRecord {
	records := make([]GenerationRecord, len(l.Entries))
	for i, e := range l.Entries {
		records[i] = e.Record()
	}
	return records
}

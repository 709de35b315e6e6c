package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/manash/seedgraph/pkg/models"
)

// Item is one prompt of a batch file. Zero fields fall back to the batch
// defaults.
type Item struct {
	Index           int
	Prompt          string
	Steps           int
	Sampler         string
	CfgScale        float64
	Seed            *int64
	Iterations      int
	VariationAmount float64
	WithVariations  string
	SeedImage       string
	Strength        float64
}

type fileItem struct {
	Prompt          string  `json:"prompt" yaml:"prompt"`
	Steps           int     `json:"steps,omitempty" yaml:"steps,omitempty"`
	Sampler         string  `json:"sampler,omitempty" yaml:"sampler,omitempty"`
	CfgScale        float64 `json:"cfg_scale,omitempty" yaml:"cfg_scale,omitempty"`
	Seed            *int64  `json:"seed,omitempty" yaml:"seed,omitempty"`
	Iterations      int     `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	VariationAmount float64 `json:"variation_amount,omitempty" yaml:"variation_amount,omitempty"`
	WithVariations  string  `json:"with_variations,omitempty" yaml:"with_variations,omitempty"`
	SeedImage       string  `json:"seed_image,omitempty" yaml:"seed_image,omitempty"`
	Strength        float64 `json:"strength,omitempty" yaml:"strength,omitempty"`
}

func ParseFile(path string) ([]Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseJSON(file)
	case ".yaml", ".yml":
		return ParseYAML(file)
	case ".txt", "":
		return ParseText(file)
	default:
		return nil, fmt.Errorf("unsupported file format %q: use .txt, .json or .yaml", ext)
	}
}

// ParseText reads one prompt per line. Blank lines and lines starting with
// # are skipped.
func ParseText(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	index := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		index++
		items = append(items, Item{
			Index:  index,
			Prompt: line,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("no prompts found in file")
	}

	return items, nil
}

func ParseJSON(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var raw []fileItem
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return convert(raw)
}

func ParseYAML(r io.Reader) ([]Item, error) {
	var raw []fileItem
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("no prompts found in file")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return convert(raw)
}

func convert(raw []fileItem) ([]Item, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no prompts found in file")
	}

	items := make([]Item, len(raw))
	for i, fi := range raw {
		if strings.TrimSpace(fi.Prompt) == "" {
			return nil, fmt.Errorf("item %d has empty prompt", i+1)
		}
		items[i] = Item{
			Index:           i + 1,
			Prompt:          fi.Prompt,
			Steps:           fi.Steps,
			Sampler:         fi.Sampler,
			CfgScale:        fi.CfgScale,
			Seed:            fi.Seed,
			Iterations:      fi.Iterations,
			VariationAmount: fi.VariationAmount,
			WithVariations:  fi.WithVariations,
			SeedImage:       fi.SeedImage,
			Strength:        fi.Strength,
		}
	}
	return items, nil
}

// Request builds the item's request on top of base. base is not modified.
func (it Item) Request(base *models.Request) *models.Request {
	req := models.NewRequest(it.Prompt)
	if base != nil {
		copied := *base
		copied.Prompt = it.Prompt
		req = &copied
	}

	if it.Steps > 0 {
		req.Steps = it.Steps
	}
	if it.Sampler != "" {
		req.SamplerName = it.Sampler
	}
	if it.CfgScale > 0 {
		req.CfgScale = it.CfgScale
	}
	if it.Seed != nil {
		req.Seed = *it.Seed
	}
	if it.Iterations > 0 {
		req.Iterations = it.Iterations
	}
	if it.VariationAmount > 0 {
		req.VariationAmount = it.VariationAmount
	}
	if it.WithVariations != "" {
		req.WithVariations = it.WithVariations
	}
	if it.Strength > 0 {
		req.Strength = it.Strength
	}
	return req
}

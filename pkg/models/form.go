package models

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

var ErrUnknownFormField = errors.New("unknown form field")

// FormField names a persisted form value. Only string-typed values are
// stored; the seed image itself never is.
type FormField string

const (
	FieldPrompt          FormField = "prompt"
	FieldIterations      FormField = "iterations"
	FieldSteps           FormField = "steps"
	FieldCfgScale        FormField = "cfg_scale"
	FieldSampler         FormField = "sampler_name"
	FieldWidth           FormField = "width"
	FieldHeight          FormField = "height"
	FieldSeed            FormField = "seed"
	FieldStrength        FormField = "strength"
	FieldVariationAmount FormField = "variation_amount"
	FieldWithVariations  FormField = "with_variations"
)

var formFields = []FormField{
	FieldPrompt, FieldIterations, FieldSteps, FieldCfgScale, FieldSampler,
	FieldWidth, FieldHeight, FieldSeed, FieldStrength, FieldVariationAmount,
	FieldWithVariations,
}

// FormFields lists the persisted fields in a stable order.
func FormFields() []string {
	names := make([]string, len(formFields))
	for i, f := range formFields {
		names[i] = string(f)
	}
	sort.Strings(names)
	return names
}

func IsFormField(name string) bool {
	for _, f := range formFields {
		if string(f) == name {
			return true
		}
	}
	return false
}

// FormValues renders the request as form values.
func (r *Request) FormValues() map[string]string {
	return map[string]string{
		string(FieldPrompt):          r.Prompt,
		string(FieldIterations):      strconv.Itoa(r.Iterations),
		string(FieldSteps):           strconv.Itoa(r.Steps),
		string(FieldCfgScale):        strconv.FormatFloat(r.CfgScale, 'f', -1, 64),
		string(FieldSampler):         r.SamplerName,
		string(FieldWidth):           strconv.Itoa(r.Width),
		string(FieldHeight):          strconv.Itoa(r.Height),
		string(FieldSeed):            strconv.FormatInt(r.Seed, 10),
		string(FieldStrength):        strconv.FormatFloat(r.Strength, 'f', -1, 64),
		string(FieldVariationAmount): strconv.FormatFloat(r.VariationAmount, 'f', -1, 64),
		string(FieldWithVariations):  r.WithVariations,
	}
}

// ApplyForm sets fields from stored form values. Unknown keys are an error;
// the request is left partially updated in that case.
func (r *Request) ApplyForm(values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := r.SetField(k, values[k]); err != nil {
			return err
		}
	}
	return nil
}

// SetField sets one form field from its string value.
func (r *Request) SetField(name, value string) error {
	var err error
	switch FormField(name) {
	case FieldPrompt:
		r.Prompt = value
	case FieldIterations:
		r.Iterations, err = strconv.Atoi(value)
	case FieldSteps:
		r.Steps, err = strconv.Atoi(value)
	case FieldCfgScale:
		r.CfgScale, err = strconv.ParseFloat(value, 64)
	case FieldSampler:
		r.SamplerName = value
	case FieldWidth:
		r.Width, err = strconv.Atoi(value)
	case FieldHeight:
		r.Height, err = strconv.Atoi(value)
	case FieldSeed:
		r.Seed, err = strconv.ParseInt(value, 10, 64)
	case FieldStrength:
		r.Strength, err = strconv.ParseFloat(value, 64)
	case FieldVariationAmount:
		r.VariationAmount, err = strconv.ParseFloat(value, 64)
	case FieldWithVariations:
		r.WithVariations = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormField, name)
	}
	if err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", value, name, err)
	}
	return nil
}

// internal/providers/options.go
package providers

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type optionKind int

const (
	kindString optionKind = iota
	kindInt
	kindFloat
	kindBool
	kindURLList
)

// optionRule describes one accepted option. A nil def means the option is omitted
// unless the caller sets it.
type optionRule struct {
	kind   optionKind
	enum   []string
	min    float64
	max    float64
	maxLen int
	def    interface{}
}

type optionSchema map[string]optionRule

// optionAliases maps the camelCase names web clients send to the snake_case wire names.
// An alias only applies when the schema has its target.
var optionAliases = map[string]string{
	"renderingSpeed":      "rendering_speed",
	"expandPrompt":        "expand_prompt",
	"imageSize":           "image_size",
	"numImages":           "num_images",
	"negativePrompt":      "negative_prompt",
	"numInferenceSteps":   "num_inference_steps",
	"guidanceScale":       "guidance_scale",
	"enableSafetyChecker": "enable_safety_checker",
	"outputFormat":        "output_format",
}

// apply validates caller options against the schema and fills defaults.
func (schema optionSchema) apply(in Options) (Options, error) {
	out := Options{}
	given := make(map[string]string, len(in))
	for key, raw := range in {
		name := key
		rule, ok := schema[name]
		if !ok {
			if canonical, aliased := optionAliases[key]; aliased {
				name = canonical
				rule, ok = schema[name]
			}
		}
		if !ok {
			return nil, fmt.Errorf("%w: unknown option %q", ErrInvalidOptions, key)
		}
		if other, dup := given[name]; dup {
			return nil, fmt.Errorf("%w: %q and %q set the same option", ErrInvalidOptions, other, key)
		}
		given[name] = key
		if raw == nil {
			continue
		}
		v, err := rule.coerce(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidOptions, key, err)
		}
		out[name] = v
	}
	for key, rule := range schema {
		if _, set := out[key]; !set && rule.def != nil {
			out[key] = rule.def
		}
	}
	return out, nil
}

func (rule optionRule) coerce(raw interface{}) (interface{}, error) {
	switch rule.kind {
	case kindString:
		s, err := asString(raw)
		if err != nil {
			return nil, err
		}
		if len(rule.enum) > 0 && !contains(rule.enum, s) {
			return nil, fmt.Errorf("must be one of %s", strings.Join(rule.enum, ", "))
		}
		if rule.maxLen > 0 && len(s) > rule.maxLen {
			return nil, fmt.Errorf("longer than %d characters", rule.maxLen)
		}
		return s, nil

	case kindInt:
		f, err := asNumber(raw)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("must be an integer")
		}
		if err := rule.checkRange(f); err != nil {
			return nil, err
		}
		return int64(f), nil

	case kindFloat:
		f, err := asNumber(raw)
		if err != nil {
			return nil, err
		}
		if err := rule.checkRange(f); err != nil {
			return nil, err
		}
		return f, nil

	case kindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("must be a boolean")
			}
			return b, nil
		}
		return nil, fmt.Errorf("must be a boolean")

	case kindURLList:
		items, ok := raw.([]interface{})
		if !ok {
			if list, isStrings := raw.([]string); isStrings {
				for _, s := range list {
					items = append(items, s)
				}
			} else {
				return nil, fmt.Errorf("must be a list of URLs")
			}
		}
		if rule.maxLen > 0 && len(items) > rule.maxLen {
			return nil, fmt.Errorf("at most %d entries", rule.maxLen)
		}
		urls := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok || !(strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")) {
				return nil, fmt.Errorf("must be a list of URLs")
			}
			urls = append(urls, s)
		}
		return urls, nil
	}
	return nil, fmt.Errorf("unsupported option")
}

func (rule optionRule) checkRange(f float64) error {
	if rule.min == 0 && rule.max == 0 {
		return nil
	}
	if f < rule.min || f > rule.max {
		return fmt.Errorf("must be between %v and %v", rule.min, rule.max)
	}
	return nil
}

// asString accepts strings and whole numbers, so {"n_frames": 10} reads as "10".
func asString(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10), nil
		}
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	}
	return "", fmt.Errorf("must be a string")
}

func asNumber(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("must be a number")
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

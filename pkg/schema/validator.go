package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validator checks node parameters against a node description
type Validator struct{}

// NewValidator creates a new parameter validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateParameters validates params against every property that applies to
// them. Values that are expressions ("=" prefix) are resolved per item at run
// time and only checked for presence.
func (v *Validator) ValidateParameters(desc *NodeDescription, params map[string]interface{}) *ValidationResult {
	result := &ValidationResult{
		Valid:  true,
		Errors: []ValidationError{},
	}
	if desc == nil {
		return result
	}

	for _, prop := range desc.VisibleProperties(params) {
		value, ok := params[prop.Name]
		if !ok {
			value = prop.Default
		}
		result.Errors = append(result.Errors, v.validateValue(value, &prop, prop.Name)...)
	}

	if len(result.Errors) > 0 {
		result.Valid = false
	}
	return result
}

// Validate returns a SchemaError when params do not satisfy desc.
func (v *Validator) Validate(desc *NodeDescription, params map[string]interface{}) error {
	result := v.ValidateParameters(desc, params)
	if result.Valid {
		return nil
	}
	return ValidationFailedError(result.Errors)
}

func (v *Validator) validateValue(value interface{}, prop *Property, path string) []ValidationError {
	var errors []ValidationError

	if prop.Required && isEmpty(value) {
		return append(errors, ValidationError{
			Path:    path,
			Message: "field is required",
			Code:    "REQUIRED",
		})
	}
	if value == nil {
		return errors
	}
	if s, ok := value.(string); ok && IsExpression(s) {
		return errors
	}

	switch prop.Type {
	case TypeString:
		if _, ok := value.(string); !ok {
			errors = append(errors, typeMismatch(path, "string", value))
		}

	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			errors = append(errors, typeMismatch(path, "boolean", value))
		}

	case TypeNumber:
		num, ok := ToFloat(value)
		if !ok {
			return append(errors, typeMismatch(path, "number", value))
		}
		errors = append(errors, v.validateNumber(num, prop.TypeOptions, path)...)

	case TypeOptions:
		s, ok := value.(string)
		if !ok {
			return append(errors, typeMismatch(path, "string", value))
		}
		if !contains(prop.OptionValues(), s) {
			errors = append(errors, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("value %q is not one of %s", s, strings.Join(prop.OptionValues(), ", ")),
				Code:    "ENUM_MISMATCH",
			})
		}

	case TypeJSON:
		if _, err := ParseJSONObject(value); err != nil {
			errors = append(errors, ValidationError{
				Path:    path,
				Message: err.Error(),
				Code:    "INVALID_JSON",
			})
		}
	}

	return errors
}

func (v *Validator) validateNumber(num float64, opts *PropertyTypeOptions, path string) []ValidationError {
	var errors []ValidationError
	if opts == nil {
		return errors
	}
	if opts.MinValue != nil && num < *opts.MinValue {
		errors = append(errors, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("value %v is less than minimum %v", num, *opts.MinValue),
			Code:    "MIN_VALUE",
		})
	}
	if opts.MaxValue != nil && num > *opts.MaxValue {
		errors = append(errors, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("value %v is greater than maximum %v", num, *opts.MaxValue),
			Code:    "MAX_VALUE",
		})
	}
	return errors
}

// IsExpression reports whether a parameter value is an expression.
func IsExpression(s string) bool {
	return strings.HasPrefix(s, "=")
}

// ParseJSONObject accepts a JSON object given as a map or as JSON text.
// An empty string yields an empty object.
func ParseJSONObject(value interface{}) (map[string]interface{}, error) {
	switch v := value.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return map[string]interface{}{}, nil
		}
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("expected a JSON object: %w", err)
		}
		if out == nil {
			return nil, fmt.Errorf("expected a JSON object, got null")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a JSON object, got %T", value)
	}
}

// ToFloat converts the numeric kinds produced by JSON decoding and Go code.
func ToFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func typeMismatch(path, want string, value interface{}) ValidationError {
	return ValidationError{
		Path:    path,
		Message: fmt.Sprintf("expected %s, got %T", want, value),
		Code:    "TYPE_MISMATCH",
	}
}

func isEmpty(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

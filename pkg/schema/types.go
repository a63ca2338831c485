package schema

// PropertyType is the kind of value a node parameter holds.
type PropertyType string

// Supported parameter types
const (
	TypeString  PropertyType = "string"
	TypeNumber  PropertyType = "number"
	TypeBoolean PropertyType = "boolean"
	TypeOptions PropertyType = "options"
	TypeJSON    PropertyType = "json"
)

// IsValidType checks if a property type is known
func IsValidType(t PropertyType) bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeOptions, TypeJSON:
		return true
	}
	return false
}

// Option is one choice of an options parameter
type Option struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	Action      string `json:"action,omitempty"`
}

// DisplayOptions restricts when a parameter applies. Every key in Show names
// another parameter; the property applies only when that parameter's value
// is one of the listed values.
type DisplayOptions struct {
	Show map[string][]string `json:"show,omitempty"`
}

// PropertyTypeOptions carries type specific settings
type PropertyTypeOptions struct {
	MinValue *float64 `json:"minValue,omitempty"`
	MaxValue *float64 `json:"maxValue,omitempty"`
	Password bool     `json:"password,omitempty"`
}

// Property describes a single node or credential parameter
type Property struct {
	DisplayName      string               `json:"displayName"`
	Name             string               `json:"name"`
	Type             PropertyType         `json:"type"`
	Default          interface{}          `json:"default"`
	Required         bool                 `json:"required,omitempty"`
	Description      string               `json:"description,omitempty"`
	Placeholder      string               `json:"placeholder,omitempty"`
	NoDataExpression bool                 `json:"noDataExpression,omitempty"`
	Options          []Option             `json:"options,omitempty"`
	DisplayOptions   *DisplayOptions      `json:"displayOptions,omitempty"`
	TypeOptions      *PropertyTypeOptions `json:"typeOptions,omitempty"`
}

// CredentialRef names a credential type a node needs
type CredentialRef struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// NodeDefaults holds presentation defaults of a node
type NodeDefaults struct {
	Name string `json:"name"`
}

// NodeDescription is the static declaration of a node: identity, connections,
// credentials and its parameter surface.
type NodeDescription struct {
	DisplayName string          `json:"displayName"`
	Name        string          `json:"name"`
	Icon        string          `json:"icon,omitempty"`
	Group       []string        `json:"group"`
	Version     int             `json:"version"`
	Subtitle    string          `json:"subtitle,omitempty"`
	Description string          `json:"description"`
	Defaults    NodeDefaults    `json:"defaults"`
	Inputs      []string        `json:"inputs"`
	Outputs     []string        `json:"outputs"`
	Credentials []CredentialRef `json:"credentials,omitempty"`
	Properties  []Property      `json:"properties"`
}

// CredentialType declares a credential and its fields
type CredentialType struct {
	Name             string     `json:"name"`
	DisplayName      string     `json:"displayName"`
	DocumentationURL string     `json:"documentationUrl,omitempty"`
	Properties       []Property `json:"properties"`
}

// ValidationError represents a single validation error
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult holds the result of validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Float returns a pointer to f, for PropertyTypeOptions bounds.
func Float(f float64) *float64 {
	return &f
}

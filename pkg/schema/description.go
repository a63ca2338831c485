package schema

import "fmt"

// Property returns the property with the given name.
func (d *NodeDescription) Property(name string) (*Property, bool) {
	for i := range d.Properties {
		if d.Properties[i].Name == name {
			return &d.Properties[i], true
		}
	}
	return nil, false
}

// DefaultValues returns the default of every property keyed by name.
func (d *NodeDescription) DefaultValues() map[string]interface{} {
	out := make(map[string]interface{}, len(d.Properties))
	for _, p := range d.Properties {
		out[p.Name] = p.Default
	}
	return out
}

// VisibleProperties returns the properties that apply to params, in
// declaration order. Missing parameters take their defaults.
func (d *NodeDescription) VisibleProperties(params map[string]interface{}) []Property {
	resolved := d.DefaultValues()
	for k, v := range params {
		resolved[k] = v
	}

	var out []Property
	for _, p := range d.Properties {
		if p.visibleWith(resolved) {
			out = append(out, p)
		}
	}
	return out
}

// VisibleNames is VisibleProperties reduced to names.
func (d *NodeDescription) VisibleNames(params map[string]interface{}) []string {
	props := d.VisibleProperties(params)
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.Name
	}
	return names
}

// IsVisible reports whether p applies given the resolved parameter values.
func (p *Property) IsVisible(params map[string]interface{}) bool {
	return p.visibleWith(params)
}

func (p *Property) visibleWith(params map[string]interface{}) bool {
	if p.DisplayOptions == nil {
		return true
	}
	for key, allowed := range p.DisplayOptions.Show {
		current := fmt.Sprint(params[key])
		match := false
		for _, a := range allowed {
			if a == current {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// OptionValues returns the allowed values of an options property.
func (p *Property) OptionValues() []string {
	values := make([]string, len(p.Options))
	for i, o := range p.Options {
		values[i] = o.Value
	}
	return values
}

package forecast

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/mathutil"
	"github.com/iwvelando/sales-forecast/pkg/validation"
	"github.com/mitchellh/mapstructure"
)

// HorizonKey is the parameter shared by every algorithm.
const HorizonKey = "horizon"

// Domain is the declared [Min, Max] range of a parameter and its Step grid.
type Domain struct {
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
	Step float64 `json:"step" yaml:"step"`
}

// Contains reports whether v lies within [Min, Max].
func (d Domain) Contains(v float64) bool {
	return v >= d.Min && v <= d.Max
}

// Clamp limits v to [Min, Max].
func (d Domain) Clamp(v float64) float64 {
	return math.Min(d.Max, math.Max(d.Min, v))
}

// Grid enumerates Min, Min+Step, ... up to Max. When the grid would exceed
// limit values it is thinned evenly; limit <= 0 means unbounded.
func (d Domain) Grid(limit int) []float64 {
	if d.Step <= 0 || d.Max < d.Min {
		return []float64{d.Min}
	}
	count := int(math.Floor((d.Max-d.Min)/d.Step+constants.StepTolerance)) + 1
	stride := 1
	if limit > 0 && count > limit {
		stride = int(math.Ceil(float64(count) / float64(limit)))
	}
	values := make([]float64, 0, count/stride+1)
	for i := 0; i < count; i += stride {
		// Round away float drift, e.g. 0.30000000000000004.
		v := math.Round((d.Min+float64(i)*d.Step)*1e9) / 1e9
		values = append(values, v)
	}
	return values
}

// HorizonDomain is the domain of the shared horizon parameter.
var HorizonDomain = Domain{Min: constants.DefaultHorizon, Max: constants.ExtendedHorizon, Step: constants.DefaultHorizon}

// horizonLimit bounds the number of points a single run may allocate.
var horizonLimit = Domain{Min: 0, Max: constants.MaxHorizon}

// ParameterSpec declares one tunable knob of an algorithm. Domain is the
// range offered for selection and tuning; values outside it only warn.
// Limit is the hard ceiling a run enforces, and the zero Limit leaves the
// value unbounded.
type ParameterSpec struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Domain      Domain  `json:"domain"`
	Limit       Domain  `json:"-"`
	Default     float64 `json:"default"`
}

// Descriptor documents an algorithm and its parameters.
type Descriptor struct {
	Name        string          `json:"name"`
	DisplayName string          `json:"displayName"`
	Description string          `json:"description"`
	Parameters  []ParameterSpec `json:"parameters"`
}

// Defaults returns the reset-to-default parameter set, horizon included.
func (d Descriptor) Defaults() ParameterSet {
	set := ParameterSet{HorizonKey: constants.DefaultHorizon}
	for _, p := range d.Parameters {
		set[p.Name] = p.Default
	}
	return set
}

// Spec returns the declaration for the named parameter.
func (d Descriptor) Spec(name string) (ParameterSpec, bool) {
	if name == HorizonKey {
		return ParameterSpec{Name: HorizonKey, Domain: HorizonDomain, Limit: horizonLimit, Default: constants.DefaultHorizon}, true
	}
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// Validate returns warnings for unknown parameters and values outside their
// declared domain. Values are never rejected.
func (d Descriptor) Validate(set ParameterSet) []string {
	var warnings []string
	for _, name := range set.Names() {
		spec, ok := d.Spec(name)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("Algorithm '%s' has no parameter '%s'", d.Name, name))
			continue
		}
		if warning := validation.ValidateParameter(d.Name, name, set[name], spec.Domain.Min, spec.Domain.Max, spec.Domain.Step); warning != "" {
			warnings = append(warnings, warning)
		}
	}
	return warnings
}

// Bound returns a copy of set that is safe to run: non-finite values fall
// back to their defaults and values beyond a parameter's Limit are clamped
// to it. Each replaced value yields a warning.
func (d Descriptor) Bound(set ParameterSet) (ParameterSet, []string) {
	out := set.Clone()
	var warnings []string
	for _, name := range out.Names() {
		spec, ok := d.Spec(name)
		if !ok {
			continue
		}
		v := out[name]
		if !mathutil.IsFinite(v) {
			out[name] = spec.Default
			warnings = append(warnings, fmt.Sprintf("Algorithm '%s' parameter '%s' is not a finite number, using default %g",
				d.Name, name, spec.Default))
			continue
		}
		if spec.Limit == (Domain{}) {
			continue
		}
		if bounded := spec.Limit.Clamp(v); bounded != v {
			out[name] = bounded
			warnings = append(warnings, fmt.Sprintf("Algorithm '%s' parameter '%s' limited to %g (requested %g)",
				d.Name, name, bounded, v))
		}
	}
	return out, warnings
}

// ParameterSet is a named mapping of numeric knobs for one algorithm.
type ParameterSet map[string]float64

// Clone returns an independent copy.
func (p ParameterSet) Clone() ParameterSet {
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// WithHorizon returns a copy with the horizon replaced.
func (p ParameterSet) WithHorizon(horizon int) ParameterSet {
	out := p.Clone()
	out[HorizonKey] = float64(horizon)
	return out
}

// Merge returns a copy of base overlaid with p.
func (p ParameterSet) Merge(base ParameterSet) ParameterSet {
	out := base.Clone()
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Horizon returns the horizon parameter, or 0 when unset.
func (p ParameterSet) Horizon() int {
	return int(p[HorizonKey])
}

// Names returns the parameter names in sorted order.
func (p ParameterSet) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// String renders the set as JSON with sorted keys.
func (p ParameterSet) String() string {
	data, err := json.Marshal(map[string]float64(p))
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Decode copies the set onto the mapstructure-tagged struct out. Fields whose
// key is absent keep their current value.
func (p ParameterSet) Decode(out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]float64(p)); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	return nil
}

// Selection keeps one independent parameter set per algorithm so switching
// algorithms never loses another algorithm's settings.
type Selection map[string]ParameterSet

// NewSelection returns a selection holding every registered algorithm's
// defaults.
func NewSelection(registry *Registry) Selection {
	s := make(Selection)
	for _, d := range registry.Descriptors() {
		s[d.Name] = d.Defaults()
	}
	return s
}

// For returns a copy of the named algorithm's set with missing keys filled
// from defaults.
func (s Selection) For(registry *Registry, name string) ParameterSet {
	var defaults ParameterSet
	if d, ok := registry.Descriptor(name); ok {
		defaults = d.Defaults()
	} else {
		defaults = ParameterSet{HorizonKey: constants.DefaultHorizon}
	}
	if set, ok := s[name]; ok {
		return set.Merge(defaults)
	}
	return defaults
}

// Set updates one parameter of one algorithm.
func (s Selection) Set(name, param string, value float64) {
	if s[name] == nil {
		s[name] = make(ParameterSet)
	}
	s[name][param] = value
}

// Reset restores the named algorithm to its defaults.
func (s Selection) Reset(registry *Registry, name string) {
	if d, ok := registry.Descriptor(name); ok {
		s[name] = d.Defaults()
		return
	}
	delete(s, name)
}

// Package parammap holds registration parameter maps: ordered mappings from an
// elastix parameter name to its list of string-encoded values.
//
// A Map is immutable once built. Every operation that changes a binding returns
// a new Map, so the default stage templates can be handed out and overridden
// per call without any state leaking between calls.
package parammap

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well-known parameter keys used by the pipeline.
const (
	KeyTransform                = "Transform"
	KeyTransformParameters      = "TransformParameters"
	KeyNumberOfParameters       = "NumberOfParameters"
	KeyCenterOfRotationPoint    = "CenterOfRotationPoint"
	KeyResampleInterpolator     = "ResampleInterpolator"
	KeyAutomaticTransformInit   = "AutomaticTransformInitialization"
	KeyInitialTransformFileName = "InitialTransformParametersFileName"
	KeySize                     = "Size"
	KeySpacing                  = "Spacing"
	KeyOrigin                   = "Origin"
	KeyDirection                = "Direction"
	KeyIndex                    = "Index"
	KeyMetric                   = "Metric"
	KeyDefaultPixelValue        = "DefaultPixelValue"
	KeyResultImagePixelType     = "ResultImagePixelType"
	KeyRequiredRatioValid       = "RequiredRatioOfValidSamples"
	KeyGridSize                 = "GridSize"
	KeyGridSpacing              = "GridSpacing"
	KeyGridOrigin               = "GridOrigin"
	KeyGridIndex                = "GridIndex"
	KeyGridDirection            = "GridDirection"
	KeyHowToCombineTransforms   = "HowToCombineTransforms"
)

// Values commonly bound to the well-known keys.
const (
	NearestNeighborInterpolator = "FinalNearestNeighborInterpolator"
	BSplineInterpolator         = "FinalBSplineInterpolator"
	LinearInterpolator          = "FinalLinearInterpolator"

	EulerTransform   = "EulerTransform"
	AffineTransform  = "AffineTransform"
	BSplineTransform = "BSplineTransform"

	NoInitialTransform = "NoInitialTransform"
)

// Values is the list of string-encoded values bound to a parameter.
// Multi-resolution schedules use one entry per resolution level.
type Values []string

// Singleton returns a value list holding exactly one value
func Singleton(v string) Values {
	return Values{v}
}

// Many returns a value list holding the given values in order
func Many(v ...string) Values {
	out := make(Values, len(v))
	copy(out, v)
	return out
}

// First returns the first value, or the empty string for an empty list
func (v Values) First() string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Equal reports element-wise equality
func (v Values) Equal(o Values) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

func (v Values) clone() Values {
	return Many(v...)
}

// Entry is a single key binding, used to build maps in a fixed order
type Entry struct {
	Key    string
	Values Values
}

// Map is an ordered, immutable mapping from parameter name to values.
// The zero value is an empty map.
type Map struct {
	keys   []string
	values map[string]Values
}

// New builds a map from entries. A key repeated later overrides the earlier
// binding but keeps its original position.
func New(entries ...Entry) Map {
	m := Map{
		keys:   make([]string, 0, len(entries)),
		values: make(map[string]Values, len(entries)),
	}
	for _, e := range entries {
		if _, ok := m.values[e.Key]; !ok {
			m.keys = append(m.keys, e.Key)
		}
		m.values[e.Key] = e.Values.clone()
	}
	return m
}

// FromValues builds a map from an unordered Go map; keys are sorted.
func FromValues(values map[string]Values) Map {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{Key: k, Values: values[k]})
	}
	return New(entries...)
}

// Len returns the number of bound keys
func (m Map) Len() int {
	return len(m.keys)
}

// Keys returns the bound keys in insertion order
func (m Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Has reports whether key is bound
func (m Map) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Get returns a copy of the values bound to key
func (m Map) Get(key string) (Values, bool) {
	v, ok := m.values[key]
	if !ok {
		return nil, false
	}
	return v.clone(), true
}

// Value returns the first value bound to key, or the empty string
func (m Map) Value(key string) string {
	return m.values[key].First()
}

// Entries returns the bindings in insertion order
func (m Map) Entries() []Entry {
	out := make([]Entry, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, Entry{Key: k, Values: m.values[k].clone()})
	}
	return out
}

// Clone returns a deep copy of the map
func (m Map) Clone() Map {
	return New(m.Entries()...)
}

// With returns a copy of the map with key bound to values. An existing key
// keeps its position; a new key is appended.
func (m Map) With(key string, values Values) Map {
	entries := m.Entries()
	return New(append(entries, Entry{Key: key, Values: values})...)
}

// Without returns a copy of the map with key removed
func (m Map) Without(key string) Map {
	entries := make([]Entry, 0, len(m.keys))
	for _, e := range m.Entries() {
		if e.Key != key {
			entries = append(entries, e)
		}
	}
	return New(entries...)
}

// Equal reports whether both maps bind the same keys to equal values.
// Key order is not significant.
func (m Map) Equal(o Map) bool {
	if len(m.keys) != len(o.keys) {
		return false
	}
	for k, v := range m.values {
		ov, ok := o.values[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// AsGoMap returns the bindings as a plain Go map, mainly for diffing in tests
func (m Map) AsGoMap() map[string][]string {
	out := make(map[string][]string, len(m.keys))
	for k, v := range m.values {
		out[k] = []string(v.clone())
	}
	return out
}

// String renders the map in elastix parameter-file syntax
func (m Map) String() string {
	var b strings.Builder
	_ = Encode(&b, m)
	return b.String()
}

// MarshalYAML writes the map as a YAML mapping, preserving key order
func (m Map) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range m.keys {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, v := range m.values[k] {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: v})
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, seq)
	}
	return node, nil
}

// UnmarshalYAML reads a YAML mapping. A scalar binding becomes a singleton
// value list; a sequence binding keeps its elements in order.
func (m *Map) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("parameter map must be a mapping, got line %d", node.Line)
	}
	entries := make([]Entry, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		valueNode := node.Content[i+1]
		switch valueNode.Kind {
		case yaml.ScalarNode:
			entries = append(entries, Entry{Key: key, Values: Singleton(valueNode.Value)})
		case yaml.SequenceNode:
			values := make(Values, 0, len(valueNode.Content))
			for _, item := range valueNode.Content {
				if item.Kind != yaml.ScalarNode {
					return fmt.Errorf("parameter %q: values must be scalars (line %d)", key, item.Line)
				}
				values = append(values, item.Value)
			}
			entries = append(entries, Entry{Key: key, Values: values})
		default:
			return fmt.Errorf("parameter %q: expected scalar or sequence (line %d)", key, valueNode.Line)
		}
	}
	*m = New(entries...)
	return nil
}

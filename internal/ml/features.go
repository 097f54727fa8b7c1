package ml

import (
	"errors"
	"fmt"
)

// ErrMalformedFeatureVector indicates a vector that does not match the schema
// the scorer was trained with. The caller must fix the input; the vector is
// never padded or truncated silently.
var ErrMalformedFeatureVector = errors.New("malformed feature vector")

// Schema fixes the names and order of the numeric features a model consumes.
// The schema is set per deployment and shared by training and scoring.
type Schema struct {
	Fields []string
}

// NewSchema builds a schema from an ordered list of field names.
func NewSchema(fields ...string) Schema {
	return Schema{Fields: fields}
}

// Len returns the number of features in the schema.
func (s Schema) Len() int { return len(s.Fields) }

// FeatureVector is an ordered array of numeric features. Position i holds the
// value of Schema.Fields[i].
type FeatureVector []float64

// Validate checks the vector length against the schema.
func (v FeatureVector) Validate(s Schema) error {
	if len(v) != s.Len() {
		return fmt.Errorf("%w: got %d features, schema expects %d", ErrMalformedFeatureVector, len(v), s.Len())
	}
	return nil
}

// Vector orders a named feature map according to the schema. Every schema
// field must be present; extra keys are rejected.
func (s Schema) Vector(features map[string]float64) (FeatureVector, error) {
	if len(features) != len(s.Fields) {
		return nil, fmt.Errorf("%w: got %d features, schema expects %d", ErrMalformedFeatureVector, len(features), len(s.Fields))
	}
	v := make(FeatureVector, len(s.Fields))
	for i, name := range s.Fields {
		val, ok := features[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing feature %q", ErrMalformedFeatureVector, name)
		}
		v[i] = val
	}
	return v, nil
}

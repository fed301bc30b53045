package utils

import (
	"encoding/json"
	"fmt"
	"os"
)

// TensorValues is one named tensor in a values file: the logical shape
// and the row-major float data.
type TensorValues struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelValues bundles the tensors a binary feeds into an inference,
// keyed by parameter name.
type ModelValues struct {
	Version string                  `json:"version"`
	Tensors map[string]TensorValues `json:"tensors"`
}

// SaveValues writes a model values bundle as indented JSON.
func SaveValues(filepath string, values *ModelValues) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal values: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadValues reads a model values bundle from a JSON file.
func LoadValues(filepath string) (*ModelValues, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read values file: %w", err)
	}
	var values ModelValues
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal values: %w", err)
	}
	if values.Tensors == nil {
		values.Tensors = make(map[string]TensorValues)
	}
	for name, tv := range values.Tensors {
		size := 1
		for _, d := range tv.Shape {
			size *= d
		}
		if len(tv.Data) != size {
			return nil, fmt.Errorf("tensor %q: shape %v wants %d values, file has %d", name, tv.Shape, size, len(tv.Data))
		}
	}
	return &values, nil
}

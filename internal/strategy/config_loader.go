package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the YAML layout for strategy parameters.
type ConfigFile struct {
	AlphaTrend AlphaTrendParams `yaml:"alphatrend"`
}

// LoadConfig reads AlphaTrend parameters from a YAML file. Missing fields
// keep their defaults.
func LoadConfig(path string) (AlphaTrendParams, error) {
	params := DefaultAlphaTrendParams()
	data, err := os.ReadFile(path)
	if err != nil {
		return params, err
	}

	file := ConfigFile{AlphaTrend: params}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return params, fmt.Errorf("parse strategy config: %w", err)
	}
	if file.AlphaTrend.Period < 3 {
		return params, fmt.Errorf("alphatrend period %d: must be at least 3", file.AlphaTrend.Period)
	}
	if file.AlphaTrend.Coeff <= 0 {
		file.AlphaTrend.Coeff = params.Coeff
	}
	return file.AlphaTrend, nil
}

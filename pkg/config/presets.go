package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrUnknownPreset is returned for preset names that are not configured.
var ErrUnknownPreset = errors.New("unknown preset")

// Preset is a named bundle of trading settings.
type Preset struct {
	Description     string  `yaml:"description" json:"description"`
	TPPercent       float64 `yaml:"tp_percent" json:"DEFAULT_TP_PERCENT"`
	SLPercent       float64 `yaml:"sl_percent" json:"DEFAULT_SL_PERCENT"`
	MaxActiveTrades int     `yaml:"max_active_trades" json:"MAX_ACTIVE_TRADES"`
	ADXThreshold    float64 `yaml:"adx_threshold" json:"ADX_THRESHOLD"`
	RVOLThreshold   float64 `yaml:"rvol_threshold" json:"RVOL_THRESHOLD"`
}

func (p Preset) apply(t *Trading) {
	if p.TPPercent > 0 {
		t.TPPercent = p.TPPercent
	}
	if p.SLPercent > 0 {
		t.SLPercent = p.SLPercent
	}
	if p.MaxActiveTrades > 0 {
		t.MaxActiveTrades = p.MaxActiveTrades
	}
	if p.ADXThreshold > 0 {
		t.ADXThreshold = p.ADXThreshold
	}
	if p.RVOLThreshold > 0 {
		t.RVOLThreshold = p.RVOLThreshold
	}
}

// DefaultPresets returns the built-in presets.
func DefaultPresets() map[string]Preset {
	return map[string]Preset{
		"conservative": {Description: "Tight targets, strong trend confirmation", TPPercent: 0.3, SLPercent: 0.2, MaxActiveTrades: 3, ADXThreshold: 25, RVOLThreshold: 1.5},
		"balanced":     {Description: "Default risk/reward", TPPercent: 0.5, SLPercent: 0.3, MaxActiveTrades: 5, ADXThreshold: 20, RVOLThreshold: 1.2},
		"aggressive":   {Description: "Wider targets, looser filters", TPPercent: 0.8, SLPercent: 0.4, MaxActiveTrades: 8, ADXThreshold: 15, RVOLThreshold: 1.0},
	}
}

type presetFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

// LoadPresets reads a YAML preset file and merges it over DefaultPresets.
// An empty path returns the defaults.
func LoadPresets(path string) (map[string]Preset, error) {
	presets := DefaultPresets()
	if path == "" {
		return presets, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	for name, p := range file.Presets {
		presets[name] = p
	}
	return presets, nil
}

package config

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Trading is the runtime-mutable trading configuration. Components read a
// fresh copy through Store.Snapshot on every evaluation.
type Trading struct {
	USDTAmount            float64 `json:"DEFAULT_USDT_AMOUNT"`
	TPPercent             float64 `json:"DEFAULT_TP_PERCENT"`
	SLPercent             float64 `json:"DEFAULT_SL_PERCENT"`
	EntryDistancePercent  float64 `json:"ENTRY_DISTANCE_PERCENT"`
	MaxActiveTrades       int     `json:"MAX_ACTIVE_TRADES"`
	MaxTradesPerCoin      int     `json:"MAX_TRADES_PER_COIN"`
	DailyLossCapPercent   float64 `json:"DAILY_LOSS_CAP_PERCENT"`
	ADXThreshold          float64 `json:"ADX_THRESHOLD"`
	RVOLThreshold         float64 `json:"RVOL_THRESHOLD"`
	BBWidthThreshold      float64 `json:"BB_WIDTH_THRESHOLD"`
	AIEnabled             bool    `json:"AI_ENABLED"`
	TrailingStopEnabled   bool    `json:"TRAILING_STOP_ENABLED"`
	TrailingStopDistance  float64 `json:"TRAILING_STOP_DISTANCE"`
	PartialTPEnabled      bool    `json:"PARTIAL_TP_ENABLED"`
	PartialTPPercent      float64 `json:"PARTIAL_TP_PERCENT"`
	DCAEnabled            bool    `json:"DCA_ENABLED"`
	DCAMaxSteps           int     `json:"DCA_MAX_STEPS"`
	DCADistancePercent    float64 `json:"DCA_DISTANCE_PERCENT"`
	AutoCloseTimeoutHours float64 `json:"AUTO_CLOSE_TIMEOUT_HOURS"`
	OrderTimeoutMinutes   int     `json:"ORDER_TIMEOUT_MINUTES"`
	NotifyRejections      bool    `json:"NOTIFY_REJECTIONS"`
}

// DefaultTrading returns the built-in defaults.
func DefaultTrading() Trading {
	return Trading{
		USDTAmount:           10,
		TPPercent:            0.5,
		SLPercent:            0.3,
		MaxActiveTrades:      5,
		MaxTradesPerCoin:     2,
		DailyLossCapPercent:  5,
		ADXThreshold:         20,
		RVOLThreshold:        1.2,
		BBWidthThreshold:     0.01,
		TrailingStopDistance: 0.2,
		PartialTPPercent:     50,
		DCAMaxSteps:          2,
		DCADistancePercent:   3,
		OrderTimeoutMinutes:  5,
	}
}

// LoadTrading overlays environment variables on DefaultTrading.
func LoadTrading() Trading {
	d := DefaultTrading()
	return Trading{
		USDTAmount:            getEnvFloat("DEFAULT_USDT_AMOUNT", d.USDTAmount),
		TPPercent:             getEnvFloat("DEFAULT_TP_PERCENT", d.TPPercent),
		SLPercent:             getEnvFloat("DEFAULT_SL_PERCENT", d.SLPercent),
		EntryDistancePercent:  getEnvFloat("ENTRY_DISTANCE_PERCENT", d.EntryDistancePercent),
		MaxActiveTrades:       getEnvInt("MAX_ACTIVE_TRADES", d.MaxActiveTrades),
		MaxTradesPerCoin:      getEnvInt("MAX_TRADES_PER_COIN", d.MaxTradesPerCoin),
		DailyLossCapPercent:   getEnvFloat("DAILY_LOSS_CAP_PERCENT", d.DailyLossCapPercent),
		ADXThreshold:          getEnvFloat("ADX_THRESHOLD", d.ADXThreshold),
		RVOLThreshold:         getEnvFloat("RVOL_THRESHOLD", d.RVOLThreshold),
		BBWidthThreshold:      getEnvFloat("BB_WIDTH_THRESHOLD", d.BBWidthThreshold),
		AIEnabled:             getEnvBool("AI_ENABLED", d.AIEnabled),
		TrailingStopEnabled:   getEnvBool("TRAILING_STOP_ENABLED", d.TrailingStopEnabled),
		TrailingStopDistance:  getEnvFloat("TRAILING_STOP_DISTANCE", d.TrailingStopDistance),
		PartialTPEnabled:      getEnvBool("PARTIAL_TP_ENABLED", d.PartialTPEnabled),
		PartialTPPercent:      getEnvFloat("PARTIAL_TP_PERCENT", d.PartialTPPercent),
		DCAEnabled:            getEnvBool("DCA_ENABLED", d.DCAEnabled),
		DCAMaxSteps:           getEnvInt("DCA_MAX_STEPS", d.DCAMaxSteps),
		DCADistancePercent:    getEnvFloat("DCA_DISTANCE_PERCENT", d.DCADistancePercent),
		AutoCloseTimeoutHours: getEnvFloat("AUTO_CLOSE_TIMEOUT_HOURS", d.AutoCloseTimeoutHours),
		OrderTimeoutMinutes:   getEnvInt("ORDER_TIMEOUT_MINUTES", d.OrderTimeoutMinutes),
		NotifyRejections:      getEnvBool("NOTIFY_REJECTIONS", d.NotifyRejections),
	}
}

// Store guards the live Trading settings.
type Store struct {
	mu      sync.RWMutex
	current Trading
	presets map[string]Preset
}

// NewStore creates a store seeded with t and the built-in presets.
func NewStore(t Trading) *Store {
	return &Store{current: t, presets: DefaultPresets()}
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Trading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Replace swaps in a whole configuration.
func (s *Store) Replace(t Trading) {
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()
}

var updatable = map[string]func(*Trading, float64){
	"DEFAULT_USDT_AMOUNT":    func(t *Trading, v float64) { t.USDTAmount = v },
	"DEFAULT_TP_PERCENT":     func(t *Trading, v float64) { t.TPPercent = v },
	"DEFAULT_SL_PERCENT":     func(t *Trading, v float64) { t.SLPercent = v },
	"MAX_ACTIVE_TRADES":      func(t *Trading, v float64) { t.MaxActiveTrades = int(v) },
	"MAX_TRADES_PER_COIN":    func(t *Trading, v float64) { t.MaxTradesPerCoin = int(v) },
	"ENTRY_DISTANCE_PERCENT": func(t *Trading, v float64) { t.EntryDistancePercent = v },
}

// UpdateResult lists which keys were applied.
type UpdateResult struct {
	Applied  []string          `json:"applied"`
	Rejected map[string]string `json:"rejected,omitempty"`
}

// Update applies the whitelisted numeric keys. Unknown keys and invalid
// values are reported in Rejected and leave the setting untouched.
func (s *Store) Update(values map[string]float64) UpdateResult {
	res := UpdateResult{Rejected: map[string]string{}}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		v := values[k]
		set, ok := updatable[k]
		switch {
		case !ok:
			res.Rejected[k] = "not updatable"
		case math.IsNaN(v) || v < 0 || (v == 0 && k != "ENTRY_DISTANCE_PERCENT"):
			res.Rejected[k] = fmt.Sprintf("invalid value %v", v)
		default:
			set(&s.current, v)
			res.Applied = append(res.Applied, k)
		}
	}
	if len(res.Rejected) == 0 {
		res.Rejected = nil
	}
	return res
}

// SetAIEnabled switches the AI stage on or off.
func (s *Store) SetAIEnabled(on bool) {
	s.mu.Lock()
	s.current.AIEnabled = on
	s.mu.Unlock()
}

// SetPresets replaces the preset table.
func (s *Store) SetPresets(p map[string]Preset) {
	s.mu.Lock()
	s.presets = p
	s.mu.Unlock()
}

// Presets returns the preset table.
func (s *Store) Presets() map[string]Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Preset, len(s.presets))
	for k, v := range s.presets {
		out[k] = v
	}
	return out
}

// ApplyPreset overlays a named preset on the current settings.
func (s *Store) ApplyPreset(name string) (Trading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presets[name]
	if !ok {
		return s.current, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	p.apply(&s.current)
	return s.current, nil
}

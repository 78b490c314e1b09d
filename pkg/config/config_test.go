package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStoreUpdateWhitelist(t *testing.T) {
	s := NewStore(DefaultTrading())
	res := s.Update(map[string]float64{
		"DEFAULT_USDT_AMOUNT": 25,
		"MAX_ACTIVE_TRADES":   7,
		"ADX_THRESHOLD":       40,
		"DEFAULT_TP_PERCENT":  -1,
	})

	if len(res.Applied) != 2 {
		t.Fatalf("applied=%v, expected 2 keys", res.Applied)
	}
	if _, ok := res.Rejected["ADX_THRESHOLD"]; !ok {
		t.Fatalf("ADX_THRESHOLD should be rejected: %v", res.Rejected)
	}
	if _, ok := res.Rejected["DEFAULT_TP_PERCENT"]; !ok {
		t.Fatalf("negative TP should be rejected: %v", res.Rejected)
	}

	snap := s.Snapshot()
	if snap.USDTAmount != 25 || snap.MaxActiveTrades != 7 {
		t.Fatalf("snapshot=%+v, expected USDT 25 and MAX_ACTIVE 7", snap)
	}
	if snap.ADXThreshold != 20 || snap.TPPercent != 0.5 {
		t.Fatalf("non-whitelisted or invalid keys changed: %+v", snap)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := NewStore(DefaultTrading())
	snap := s.Snapshot()
	snap.MaxActiveTrades = 99
	if s.Snapshot().MaxActiveTrades != 5 {
		t.Fatalf("Snapshot leaked internal state")
	}
}

func TestApplyPreset(t *testing.T) {
	s := NewStore(DefaultTrading())
	got, err := s.ApplyPreset("conservative")
	if err != nil {
		t.Fatalf("ApplyPreset error: %v", err)
	}
	if got.TPPercent != 0.3 || got.SLPercent != 0.2 || got.MaxActiveTrades != 3 || got.ADXThreshold != 25 || got.RVOLThreshold != 1.5 {
		t.Fatalf("conservative=%+v", got)
	}
	if _, err := s.ApplyPreset("yolo"); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("err=%v, expected ErrUnknownPreset", err)
	}
}

func TestLoadPresetsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	body := "presets:\n  scalper:\n    description: fast\n    tp_percent: 0.2\n    sl_percent: 0.1\n    max_active_trades: 10\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	presets, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets error: %v", err)
	}
	if presets["scalper"].TPPercent != 0.2 || presets["scalper"].MaxActiveTrades != 10 {
		t.Fatalf("scalper=%+v", presets["scalper"])
	}
	if _, ok := presets["balanced"]; !ok {
		t.Fatalf("built-in presets should remain")
	}
}

func TestLoadTradingFromEnv(t *testing.T) {
	t.Setenv("MAX_ACTIVE_TRADES", "9")
	t.Setenv("TRAILING_STOP_ENABLED", "true")
	got := LoadTrading()
	if got.MaxActiveTrades != 9 || !got.TrailingStopEnabled {
		t.Fatalf("LoadTrading=%+v", got)
	}
	if got.USDTAmount != 10 {
		t.Fatalf("USDTAmount=%v, expected default 10", got.USDTAmount)
	}
}

package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.DetectThreshold != 0.7 {
		t.Errorf("DetectThreshold = %f, want 0.7", cfg.DetectThreshold)
	}
	if cfg.MaxContextLength != 100000 {
		t.Errorf("MaxContextLength = %d, want 100000", cfg.MaxContextLength)
	}
	if !cfg.EnableHeuristics {
		t.Error("heuristics should default on")
	}
	if cfg.CriticalThreshold != 300 || cfg.WarningThreshold != 600 || cfg.MediumThreshold != 800 {
		t.Errorf("risk thresholds = %f/%f/%f, want 300/600/800",
			cfg.CriticalThreshold, cfg.WarningThreshold, cfg.MediumThreshold)
	}
	if cfg.ReportWindow != 7*24*time.Hour {
		t.Errorf("ReportWindow = %s, want 168h", cfg.ReportWindow)
	}
	if cfg.PersistTimeout != 2*time.Second {
		t.Errorf("PersistTimeout = %s, want 2s", cfg.PersistTimeout)
	}
}

func TestWeightSum(t *testing.T) {
	w := NewDefaultConfig().Weights
	got := w.Sum()
	if got < 1.2499 || got > 1.2501 {
		t.Errorf("default weight sum = %f, want 1.25", got)
	}
}

func TestStrictAndPermissiveProfiles(t *testing.T) {
	strict := NewStrictConfig()
	permissive := NewPermissiveConfig()

	if strict.DetectThreshold >= NewDefaultConfig().DetectThreshold {
		t.Error("strict profile should lower the detection threshold")
	}
	if permissive.DetectThreshold <= NewDefaultConfig().DetectThreshold {
		t.Error("permissive profile should raise the detection threshold")
	}
	if strict.CriticalThreshold <= permissive.CriticalThreshold {
		t.Error("strict profile should treat more servers as critical")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WARDEN_DETECT_THRESHOLD", "0.55")
	t.Setenv("WARDEN_ENABLE_HEURISTICS", "false")
	t.Setenv("WARDEN_HISTORY_CAP", "42")
	t.Setenv("WARDEN_LISTEN_ADDR", ":9999")

	cfg := NewDefaultConfig()
	if cfg.DetectThreshold != 0.55 {
		t.Errorf("DetectThreshold = %f, want 0.55", cfg.DetectThreshold)
	}
	if cfg.EnableHeuristics {
		t.Error("WARDEN_ENABLE_HEURISTICS=false not honored")
	}
	if cfg.HistoryCap != 42 {
		t.Errorf("HistoryCap = %d, want 42", cfg.HistoryCap)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("WARDEN_TEST_FLOAT", "not-a-number")
	t.Setenv("WARDEN_TEST_INT", "1.5")
	t.Setenv("WARDEN_TEST_BOOL", "maybe")

	if got := GetEnvFloat("WARDEN_TEST_FLOAT", 0.7); got != 0.7 {
		t.Errorf("GetEnvFloat = %f, want fallback 0.7", got)
	}
	if got := GetEnvInt("WARDEN_TEST_INT", 10); got != 10 {
		t.Errorf("GetEnvInt = %d, want fallback 10", got)
	}
	if got := GetEnvBool("WARDEN_TEST_BOOL", true); got != true {
		t.Error("GetEnvBool should fall back on unparsable input")
	}
}

func TestGetEnvSlice(t *testing.T) {
	t.Setenv("WARDEN_TEST_SLICE", "a, b , ,c")
	got := GetEnvSlice("WARDEN_TEST_SLICE", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("GetEnvSlice = %v, want [a b c]", got)
	}

	if fallback := GetEnvSlice("WARDEN_TEST_SLICE_UNSET", []string{"x"}); len(fallback) != 1 {
		t.Errorf("GetEnvSlice fallback = %v", fallback)
	}
}

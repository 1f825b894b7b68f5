package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	for _, key := range []string{
		EnvPort, EnvDataDir, EnvStateDB, EnvBrokerURL, EnvWorkers,
		EnvDefaultIntervalSec, EnvSmartSampling, EnvOcrMinConfidence,
		EnvStaleAfterMin, EnvOpenVocabLabels,
	} {
		os.Unsetenv(key)
	}

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.DefaultIntervalSec() != 5 {
		t.Errorf("DefaultIntervalSec() = %d, want 5", cfg.DefaultIntervalSec())
	}
	if !cfg.SmartSampling() {
		t.Error("SmartSampling() = false, want true")
	}
	if cfg.SmartSamplingDiffThreshold() != 0.06 {
		t.Errorf("SmartSamplingDiffThreshold() = %v, want 0.06", cfg.SmartSamplingDiffThreshold())
	}
	if cfg.MinConsecutive() != 2 {
		t.Errorf("MinConsecutive() = %d, want 2", cfg.MinConsecutive())
	}
	if cfg.OcrMinConfidence() != 60 {
		t.Errorf("OcrMinConfidence() = %v, want 60", cfg.OcrMinConfidence())
	}
	if cfg.StaleAfter() != 15*time.Minute {
		t.Errorf("StaleAfter() = %v, want 15m", cfg.StaleAfter())
	}
	if cfg.BrokerURL() != "" {
		t.Errorf("BrokerURL() = %q, want empty (in-process broker)", cfg.BrokerURL())
	}
	if cfg.OpenVocabEnabled() {
		t.Error("OpenVocabEnabled() = true, want false by default")
	}
}

func TestNew_DBPathDefaultsUnderDataDir(t *testing.T) {
	os.Setenv(EnvDataDir, "/tmp/fs-test-data")
	os.Unsetenv(EnvStateDB)
	defer os.Unsetenv(EnvDataDir)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join("/tmp/fs-test-data", DBFilename)
	if cfg.DBPath() != want {
		t.Errorf("DBPath() = %q, want %q", cfg.DBPath(), want)
	}
}

func TestNew_StateDBOverride(t *testing.T) {
	os.Setenv(EnvStateDB, "/var/lib/fs/custom.db")
	defer os.Unsetenv(EnvStateDB)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath() != "/var/lib/fs/custom.db" {
		t.Errorf("DBPath() = %q, want override", cfg.DBPath())
	}
}

func TestNew_InvalidPort(t *testing.T) {
	os.Setenv(EnvPort, "99999")
	defer os.Unsetenv(EnvPort)

	if _, err := New(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestNew_IntervalClampedToOne(t *testing.T) {
	os.Setenv(EnvDefaultIntervalSec, "0")
	defer os.Unsetenv(EnvDefaultIntervalSec)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultIntervalSec() != 1 {
		t.Errorf("DefaultIntervalSec() = %d, want clamp to 1", cfg.DefaultIntervalSec())
	}
}

func TestNew_OpenVocabLabelsParsed(t *testing.T) {
	os.Setenv(EnvOpenVocabLabels, "tank, fighter jet ,radar dome")
	defer os.Unsetenv(EnvOpenVocabLabels)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	labels := cfg.OpenVocabLabels()
	want := []string{"tank", "fighter jet", "radar dome"}
	if len(labels) != len(want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("labels[%d] = %q, want %q", i, labels[i], want[i])
		}
	}
}

func TestNew_InvalidBool(t *testing.T) {
	os.Setenv(EnvSmartSampling, "maybe")
	defer os.Unsetenv(EnvSmartSampling)

	if _, err := New(); err == nil {
		t.Fatal("expected error for invalid bool")
	}
}

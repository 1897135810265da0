package config

import (
	"os"
	"testing"
)

func setVolcEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ASR_PROVIDER", "volcengine")
	t.Setenv("VOLC_APP_KEY", "test-app-key")
	t.Setenv("VOLC_ACCESS_KEY", "test-access-key")
}

func TestLoad(t *testing.T) {
	setVolcEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.VolcAppKey != "test-app-key" {
		t.Errorf("Expected VolcAppKey 'test-app-key', got '%s'", cfg.VolcAppKey)
	}

	if cfg.VolcAccessKey != "test-access-key" {
		t.Errorf("Expected VolcAccessKey 'test-access-key', got '%s'", cfg.VolcAccessKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("ASR_PROVIDER", "volcengine")
	os.Unsetenv("VOLC_APP_KEY")
	os.Unsetenv("VOLC_ACCESS_KEY")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_TencentRequiresSecrets(t *testing.T) {
	t.Setenv("ASR_PROVIDER", "tencent")
	os.Unsetenv("TENCENT_SECRET_ID")
	os.Unsetenv("TENCENT_SECRET_KEY")

	if _, err := Load(); err == nil {
		t.Error("Expected error when Tencent secrets are missing")
	}

	t.Setenv("TENCENT_SECRET_ID", "sid")
	t.Setenv("TENCENT_SECRET_KEY", "skey")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Provider != ProviderTencent {
		t.Errorf("Expected provider %q, got %q", ProviderTencent, cfg.Provider)
	}
}

func TestLoad_UnknownProvider(t *testing.T) {
	setVolcEnv(t)
	t.Setenv("ASR_PROVIDER", "whisper")

	if _, err := Load(); err == nil {
		t.Error("Expected error for unsupported provider")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setVolcEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.VolcServiceURL != "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel" {
		t.Errorf("Unexpected default VolcServiceURL '%s'", cfg.VolcServiceURL)
	}

	if cfg.VolcResourceID != "volc.bigasr.sauc.duration" {
		t.Errorf("Expected default VolcResourceID 'volc.bigasr.sauc.duration', got '%s'", cfg.VolcResourceID)
	}

	if cfg.Language != "zh-CN" {
		t.Errorf("Expected default Language 'zh-CN', got '%s'", cfg.Language)
	}

	if cfg.AudioSampleRate != 16000 || cfg.AudioBits != 16 || cfg.AudioChannels != 1 {
		t.Errorf("Expected 16000/16/1 audio defaults, got %d/%d/%d", cfg.AudioSampleRate, cfg.AudioBits, cfg.AudioChannels)
	}

	if !cfg.EnableITN || !cfg.EnablePunc {
		t.Error("Expected ITN and punctuation enabled by default")
	}

	if cfg.ResultType != "single" {
		t.Errorf("Expected default ResultType 'single', got '%s'", cfg.ResultType)
	}

	if cfg.ShowUtterances {
		t.Error("Expected ShowUtterances false by default")
	}
}

func TestConfig_SessionDefaults(t *testing.T) {
	setVolcEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ChunkMs != 200 {
		t.Errorf("Expected default ChunkMs 200, got %d", cfg.ChunkMs)
	}

	if cfg.SendBatch != 1 {
		t.Errorf("Expected default SendBatch 1, got %d", cfg.SendBatch)
	}

	if cfg.PollTimeoutMs != 20 {
		t.Errorf("Expected default PollTimeoutMs 20, got %d", cfg.PollTimeoutMs)
	}

	if cfg.FinalTimeoutMs != 5000 {
		t.Errorf("Expected default FinalTimeoutMs 5000, got %d", cfg.FinalTimeoutMs)
	}
}

func TestConfig_InvalidPacing(t *testing.T) {
	setVolcEnv(t)
	t.Setenv("ASR_SEND_BATCH", "0")

	if _, err := Load(); err == nil {
		t.Error("Expected error for zero ASR_SEND_BATCH")
	}
}

func TestLoadFromEnv(t *testing.T) {
	setVolcEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.VolcAppKey != "test-app-key" {
		t.Errorf("Expected VolcAppKey 'test-app-key', got '%s'", cfg.VolcAppKey)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	setVolcEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 100 {
		t.Errorf("Expected default RetryInitialBackoff 100, got %d", cfg.RetryInitialBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	setVolcEnv(t)
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}

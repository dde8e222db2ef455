package config

import (
	"os"
	"testing"
	"time"
)

func TestGetOr(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		envValue string
		defValue string
		want     string
	}{
		{
			name:     "returns env value when set",
			key:      "TEST_KEY_1",
			envValue: "from_env",
			defValue: "default",
			want:     "from_env",
		},
		{
			name:     "returns default when env not set",
			key:      "TEST_KEY_2_UNSET",
			envValue: "",
			defValue: "default",
			want:     "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getOr(tt.key, tt.defValue)
			if got != tt.want {
				t.Errorf("getOr() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		want     bool
	}{
		{name: "true variants", envValue: "yes", def: false, want: true},
		{name: "false variants", envValue: "0", def: true, want: false},
		{name: "garbage falls back to default", envValue: "maybe", def: true, want: true},
		{name: "unset falls back to default", envValue: "", def: false, want: false},
		{name: "mixed case", envValue: "TRUE", def: false, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_KEY"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
				defer os.Unsetenv(key)
			} else {
				os.Unsetenv(key)
			}

			got := getBool(key, tt.def)
			if got != tt.want {
				t.Errorf("getBool(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestGetDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      time.Duration
		want     time.Duration
	}{
		{name: "parses duration", envValue: "90s", def: time.Hour, want: 90 * time.Second},
		{name: "invalid falls back", envValue: "ninety", def: time.Hour, want: time.Hour},
		{name: "unset falls back", envValue: "", def: 30 * time.Second, want: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_DURATION_KEY"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
				defer os.Unsetenv(key)
			} else {
				os.Unsetenv(key)
			}

			got := getDuration(key, tt.def)
			if got != tt.want {
				t.Errorf("getDuration(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestGetStringSlice(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      string
		want     []string
	}{
		{name: "splits and trims", envValue: " log , kafka ", def: "", want: []string{"log", "kafka"}},
		{name: "uses default when unset", envValue: "", def: "log", want: []string{"log"}},
		{name: "drops empty parts", envValue: "log,,kafka,", def: "", want: []string{"log", "kafka"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_SLICE_KEY"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
				defer os.Unsetenv(key)
			} else {
				os.Unsetenv(key)
			}

			got := getStringSlice(key, tt.def)
			if len(got) != len(tt.want) {
				t.Fatalf("getStringSlice() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("getStringSlice()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"SERVER_ADDR", "OUTPUTS", "SWEEP_INTERVAL", "ORACLE_ENABLED"} {
		os.Unsetenv(k)
	}

	cfg := Load()
	if cfg.ServerAddr != ":19891" {
		t.Errorf("ServerAddr = %q, want :19891", cfg.ServerAddr)
	}
	if cfg.SweepInterval != time.Hour {
		t.Errorf("SweepInterval = %v, want 1h", cfg.SweepInterval)
	}
	if cfg.OracleEnabled {
		t.Error("OracleEnabled should default to false")
	}
	if len(cfg.Outputs) != 1 || cfg.Outputs[0] != "log" {
		t.Errorf("Outputs = %v, want [log]", cfg.Outputs)
	}
}

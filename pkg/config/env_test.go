package config

import (
	"strings"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("OPS_DB_HOST", "db.internal")
	if got := GetEnv("OPS_DB_HOST", "localhost"); got != "db.internal" {
		t.Fatalf("expected env value, got %q", got)
	}
	if got := GetEnv("OPS_DB_HOST_MISSING", "localhost"); got != "localhost" {
		t.Fatalf("expected default, got %q", got)
	}
	t.Setenv("OPS_DB_HOST_EMPTY", "")
	if got := GetEnv("OPS_DB_HOST_EMPTY", "fallback"); got != "fallback" {
		t.Fatalf("expected default for empty value, got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback int
		want     int
	}{
		{"valid", "8080", 0, 8080},
		{"negative", "-5", 0, -5},
		{"unset", "", 3000, 3000},
		{"garbage", "not_a_number", 5, 5},
		{"float", "3.14", 7, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "OPS_TEST_INT_" + tt.name
			if tt.value != "" {
				t.Setenv(key, tt.value)
			}
			if got := GetEnvInt(key, tt.fallback); got != tt.want {
				t.Fatalf("GetEnvInt(%q, %d) = %d, want %d", key, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestGetEnvInt64(t *testing.T) {
	t.Setenv("OPS_STREAM_MAXLEN", "100000")
	if got := GetEnvInt64("OPS_STREAM_MAXLEN", 0); got != 100000 {
		t.Fatalf("expected 100000, got %d", got)
	}
	t.Setenv("OPS_STREAM_MAXLEN_BAD", "abc")
	if got := GetEnvInt64("OPS_STREAM_MAXLEN_BAD", 42); got != 42 {
		t.Fatalf("expected default for invalid value, got %d", got)
	}
	if got := GetEnvInt64("OPS_STREAM_MAXLEN_MISSING", 7); got != 7 {
		t.Fatalf("expected default for unset key, got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback bool
		want     bool
	}{
		{"true", "true", false, true},
		{"one", "1", false, true},
		{"false", "false", true, false},
		{"zero", "0", true, false},
		{"unset", "", true, true},
		{"garbage", "yes", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "OPS_TEST_BOOL_" + tt.name
			if tt.value != "" {
				t.Setenv(key, tt.value)
			}
			if got := GetEnvBool(key, tt.fallback); got != tt.want {
				t.Fatalf("GetEnvBool(%q, %v) = %v, want %v", key, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback time.Duration
		want     time.Duration
	}{
		{"seconds", "30s", 0, 30 * time.Second},
		{"minutes", "5m", 0, 5 * time.Minute},
		{"compound", "1h30m", 0, 90 * time.Minute},
		{"unset", "", 10 * time.Second, 10 * time.Second},
		{"garbage", "soon", 5 * time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "OPS_TEST_DUR_" + tt.name
			if tt.value != "" {
				t.Setenv(key, tt.value)
			}
			if got := GetEnvDuration(key, tt.fallback); got != tt.want {
				t.Fatalf("GetEnvDuration(%q, %v) = %v, want %v", key, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestGetEnvSlice(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback []string
		want     []string
	}{
		{"plain", "a,b,c", nil, []string{"a", "b", "c"}},
		{"whitespace", " a , b , c ", nil, []string{"a", "b", "c"}},
		{"empty parts", "a,,b,  ,c", nil, []string{"a", "b", "c"}},
		{"single", "single", nil, []string{"single"}},
		{"unset", "", []string{"default"}, []string{"default"}},
		{"only commas", ",,,", []string{"fallback"}, []string{"fallback"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "OPS_TEST_SLICE_" + strings.ReplaceAll(tt.name, " ", "_")
			if tt.value != "" {
				t.Setenv(key, tt.value)
			}
			got := GetEnvSlice(key, tt.fallback)
			if len(got) != len(tt.want) {
				t.Fatalf("length = %d, want %d (%v)", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("element %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

package logger

import (
	"strings"
	"testing"
)

func TestStripAnsiCodes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "worker comfy-a is healthy", "worker comfy-a is healthy"},
		{"single colour code", "\x1b[32mhealthy\x1b[0m", "healthy"},
		{"mixed codes and text", "\x1b[31mError:\x1b[0m dial \x1b[1;33mrefused\x1b[0m", "Error: dial refused"},
		{"truncated code at end", "latency \x1b[33", "latency "},
		{"lone escape byte survives", "odd\x1bbyte", "odd\x1bbyte"},
		{"escape at very end", "tail\x1b", "tail\x1b"},
		{"empty string", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripAnsiCodes(tc.in); got != tc.want {
				t.Errorf("stripAnsiCodes(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func BenchmarkStripAnsiCodes(b *testing.B) {
	styled := "\x1b[36mcomfy-a\x1b[0m finished \x1b[33mupscale\x1b[0m in \x1b[32m412ms\x1b[0m"

	b.Run("short", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			stripAnsiCodes(styled)
		}
	})

	b.Run("long", func(b *testing.B) {
		long := strings.Repeat(styled, 1000)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			stripAnsiCodes(long)
		}
	})
}

package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
		enabled       zapcore.Level
		disabled      zapcore.Level
	}{
		{"info", "json", false, zapcore.InfoLevel, zapcore.DebugLevel},
		{"DEBUG", "console", false, zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"warn", "", false, zapcore.WarnLevel, zapcore.InfoLevel},
		{"error", "json", false, zapcore.ErrorLevel, zapcore.WarnLevel},
		{"loud", "json", true, 0, 0},
		{"info", "xml", true, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			l, err := New(tt.level, tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !l.Core().Enabled(tt.enabled) {
				t.Errorf("%s should be enabled", tt.enabled)
			}
			if l.Core().Enabled(tt.disabled) {
				t.Errorf("%s should be disabled", tt.disabled)
			}
		})
	}
}

func TestMustPanicsOnBadLevel(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Must("nope", "json")
}

package util

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func saveLoggerState() (logrus.Level, logrus.Formatter) {
	return Logger.GetLevel(), Logger.Formatter
}

func restoreLoggerState(level logrus.Level, formatter logrus.Formatter) {
	Logger.SetLevel(level)
	Logger.SetFormatter(formatter)
	Logger.SetOutput(os.Stderr)
}

func TestSetLogLevel(t *testing.T) {
	level, formatter := saveLoggerState()
	defer restoreLoggerState(level, formatter)

	tests := []struct {
		input   string
		want    logrus.Level
		wantErr bool
	}{
		{"debug", logrus.DebugLevel, false},
		{"warn", logrus.WarnLevel, false},
		{"error", logrus.ErrorLevel, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := SetLogLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && Logger.GetLevel() != tt.want {
				t.Errorf("level = %v, want %v", Logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestWithScope(t *testing.T) {
	level, formatter := saveLoggerState()
	defer restoreLoggerState(level, formatter)

	var buf bytes.Buffer
	SetLogOutput(&buf)
	SetJSONFormat()
	Logger.SetLevel(logrus.InfoLevel)

	WithScope("vlan", "N_1").Info("fetched")

	out := buf.String()
	for _, want := range []string{`"kind":"vlan"`, `"scope":"N_1"`, `"msg":"fetched"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	level, formatter := saveLoggerState()
	defer restoreLoggerState(level, formatter)

	var buf bytes.Buffer
	SetLogOutput(&buf)
	Logger.SetLevel(logrus.InfoLevel)

	Debugf("hidden %d", 1)
	if buf.Len() != 0 {
		t.Errorf("debug output leaked at info level: %q", buf.String())
	}
	Warnf("shown %d", 2)
	if !strings.Contains(buf.String(), "shown 2") {
		t.Errorf("warn output missing: %q", buf.String())
	}
}

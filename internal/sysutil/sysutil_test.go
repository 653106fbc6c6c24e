package sysutil

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"  DeBuG  ", zerolog.DebugLevel}, // case + trim
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel}, // alias
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"unknown", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v; want %v", tc.in, got, tc.want)
		}
	}
}

func TestSetupLogging_AppliesGlobalLevel(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	SetupLogging("error", false)
	if got := zerolog.GlobalLevel(); got != zerolog.ErrorLevel {
		t.Fatalf("global level = %v; want error", got)
	}
}

func TestVersion(t *testing.T) {
	t.Setenv("APP_VERSION", "")
	if got := Version("dev"); got != "dev" {
		t.Fatalf("Version fallback = %q", got)
	}
	t.Setenv("APP_VERSION", " 1.4.0 ")
	if got := Version("dev"); got != "1.4.0" {
		t.Fatalf("Version from env = %q", got)
	}
}

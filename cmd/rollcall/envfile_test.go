package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestParseEnvFile(t *testing.T) {
	t.Setenv("ROLLCALL_TEST_KEEP", "from-env")
	for _, key := range []string{"ROLLCALL_TEST_PLAIN", "ROLLCALL_TEST_QUOTED", "ROLLCALL_TEST_EXPORTED"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	input := "\ufeff# comment\n" +
		"ROLLCALL_TEST_PLAIN = value\n" +
		"ROLLCALL_TEST_QUOTED=\"quoted value\"\n" +
		"export ROLLCALL_TEST_EXPORTED='single'\n" +
		"ROLLCALL_TEST_KEEP=from-file\n" +
		"not a pair\n" +
		"=missing-key\n"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := parseEnvFile(logger, strings.NewReader(input)); err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := map[string]string{
		"ROLLCALL_TEST_PLAIN":    "value",
		"ROLLCALL_TEST_QUOTED":   "quoted value",
		"ROLLCALL_TEST_EXPORTED": "single",
		"ROLLCALL_TEST_KEEP":     "from-env",
	}
	for key, value := range want {
		if got := os.Getenv(key); got != value {
			t.Fatalf("expected %s=%q, got %q", key, value, got)
		}
	}
}

func TestTrimQuotes(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`"a"`:  "a",
		`'b'`:  "b",
		`"c'`:  `"c'`,
		`x`:    "x",
		`""`:   "",
		`"`:    `"`,
	}
	for in, want := range cases {
		if got := trimQuotes(in); got != want {
			t.Fatalf("trimQuotes(%q) = %q, want %q", in, got, want)
		}
	}
}

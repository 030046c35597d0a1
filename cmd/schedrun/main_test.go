package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFinishArgs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		args  []string
		mutex string
		code  int
		ok    bool
	}{
		{"mutex only", []string{"backup"}, "backup", 0, true},
		{"with code", []string{"backup", "3"}, "backup", 3, true},
		{"negative code", []string{"backup", "-1"}, "backup", -1, true},
		{"bad code", []string{"backup", "three"}, "", 0, false},
		{"blank mutex", []string{"  "}, "", 0, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mutex, code, err := parseFinishArgs(tt.args)
			if (err == nil) != tt.ok {
				t.Fatalf("err = %v, want ok=%v", err, tt.ok)
			}
			if tt.ok && (mutex != tt.mutex || code != tt.code) {
				t.Fatalf("got %q/%d, want %q/%d", mutex, code, tt.mutex, tt.code)
			}
		})
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "schedrun.yaml")
	body := "store:\n  driver: memory\nmaintenance:\n  path: " + filepath.Join(dir, "down") +
		"\nlogging:\n  console: false\ntasks:\n  - name: gc\n    call: runtime.free_os_memory\n    cron: \"0 4 * * *\"\n"
	if err := os.WriteFile(cfg, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := execute(t, "--config", cfg, "check")
	if err != nil || !strings.Contains(out, "Configuration OK (1 tasks)") {
		t.Fatalf("check = %q, %v", out, err)
	}
	out, err = execute(t, "--config", cfg, "list")
	if err != nil || !strings.Contains(out, "runtime.free_os_memory") {
		t.Fatalf("list = %q, %v", out, err)
	}
	if out, err = execute(t, "--config", cfg, "down"); err != nil || !strings.Contains(out, "enabled") {
		t.Fatalf("down = %q, %v", out, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "down")); err != nil {
		t.Fatalf("maintenance marker missing: %v", err)
	}
	if _, err = execute(t, "--config", cfg, "up"); err != nil {
		t.Fatalf("up: %v", err)
	}
	if _, err = execute(t, "--config", cfg, "finish", "unknown-task", "0"); err != nil {
		t.Fatalf("orphan finish: %v", err)
	}
	if _, err = execute(t, "--config", filepath.Join(dir, "missing.yaml"), "finish", "x"); err != nil {
		t.Fatalf("finish must not fail on a broken config: %v", err)
	}
	if _, err = execute(t, "--config", cfg, "finish", "x", "NaN"); err == nil {
		t.Fatalf("malformed exit code accepted")
	}
}

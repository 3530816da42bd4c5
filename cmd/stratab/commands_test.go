package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

const validConfigJSON = `{
	"use_blocks": true,
	"table": "narrow_e",
	"num_tuples": 500,
	"layout_type": "rowstore",
	"use_compression": false,
	"num_runs": 1,
	"num_threads": 1,
	"block_size_mb": 1,
	"tests": [{"predicate_column": 0, "selectivity": 0.5, "projection_width": 0}]
}`

func TestValidateCommand(t *testing.T) {
	cmd := newValidateCommand()
	cmd.SetArgs([]string{writeConfig(t, validConfigJSON)})
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestValidateCommandRejectsBadConfig(t *testing.T) {
	cmd := newValidateCommand()
	cmd.SetArgs([]string{writeConfig(t, `{"table": "unknown"}`)})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("Execute() should fail for an invalid configuration")
	}
}

func TestTablesCommand(t *testing.T) {
	cmd := newTablesCommand()
	cmd.SetArgs(nil)
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestRunCommand(t *testing.T) {
	cmd := newRunCommand()
	cmd.SetArgs([]string{writeConfig(t, validConfigJSON)})
	cmd.SetOut(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

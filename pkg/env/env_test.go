package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("LOCALKART_TEST_PORT=9090\nLOCALKART_TEST_KEEP=fromfile\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOCALKART_TEST_KEEP", "fromenv")
	t.Setenv("LOCALKART_TEST_PORT", "")
	os.Unsetenv("LOCALKART_TEST_PORT")

	if err := Load(nil, path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("LOCALKART_TEST_PORT"); got != "9090" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("LOCALKART_TEST_KEEP"); got != "fromenv" {
		t.Fatalf("existing variables must win, got %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if err := Load(nil, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
}

func TestTypedGetters(t *testing.T) {
	t.Setenv("LK_STR", "neo4j")
	t.Setenv("LK_INT", "42")
	t.Setenv("LK_BAD_INT", "forty")
	t.Setenv("LK_FLOAT", "0.5")
	t.Setenv("LK_BOOL", "true")
	t.Setenv("LK_DUR", "90s")

	if Or("LK_STR", "memory") != "neo4j" || Or("LK_UNSET", "memory") != "memory" {
		t.Error("Or")
	}
	if Int("LK_INT", 1) != 42 || Int("LK_BAD_INT", 1) != 1 {
		t.Error("Int")
	}
	if Float("LK_FLOAT", 2) != 0.5 || Float("LK_UNSET", 2) != 2 {
		t.Error("Float")
	}
	if !Bool("LK_BOOL", false) || Bool("LK_UNSET", false) {
		t.Error("Bool")
	}
	if Duration("LK_DUR", time.Second) != 90*time.Second || Duration("LK_UNSET", time.Second) != time.Second {
		t.Error("Duration")
	}
}

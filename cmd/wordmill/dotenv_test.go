// ABOUTME: Tests for the .env file loader that reads KEY=VALUE pairs into the process environment.
// ABOUTME: Covers plain values, quoted values, comments, export prefixes, and no-clobber behavior.
package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDotEnvSetsVariables(t *testing.T) {
	path := writeTempEnv(t, "TEST_WM_A=hello\nTEST_WM_B=world\n")
	clearEnv(t, "TEST_WM_A", "TEST_WM_B")

	loadDotEnv(path)

	if got := os.Getenv("TEST_WM_A"); got != "hello" {
		t.Errorf("expected TEST_WM_A=hello, got %q", got)
	}
	if got := os.Getenv("TEST_WM_B"); got != "world" {
		t.Errorf("expected TEST_WM_B=world, got %q", got)
	}
}

func TestLoadDotEnvQuotedValues(t *testing.T) {
	path := writeTempEnv(t, "TEST_WM_Q=\"double quoted\"\nTEST_WM_S='single quoted'\n")
	clearEnv(t, "TEST_WM_Q", "TEST_WM_S")

	loadDotEnv(path)

	if got := os.Getenv("TEST_WM_Q"); got != "double quoted" {
		t.Errorf("expected double quoted value, got %q", got)
	}
	if got := os.Getenv("TEST_WM_S"); got != "single quoted" {
		t.Errorf("expected single quoted value, got %q", got)
	}
}

func TestLoadDotEnvExportPrefix(t *testing.T) {
	path := writeTempEnv(t, "export TEST_WM_EXPORT=yes\n")
	clearEnv(t, "TEST_WM_EXPORT")

	loadDotEnv(path)

	if got := os.Getenv("TEST_WM_EXPORT"); got != "yes" {
		t.Errorf("expected TEST_WM_EXPORT=yes, got %q", got)
	}
}

func TestLoadDotEnvSkipsCommentsAndBlanks(t *testing.T) {
	path := writeTempEnv(t, "# a comment\n\nTEST_WM_C=value\n# TEST_WM_D=never\n")
	clearEnv(t, "TEST_WM_C", "TEST_WM_D")

	loadDotEnv(path)

	if got := os.Getenv("TEST_WM_C"); got != "value" {
		t.Errorf("expected TEST_WM_C=value, got %q", got)
	}
	if _, exists := os.LookupEnv("TEST_WM_D"); exists {
		t.Error("commented variable should not be set")
	}
}

func TestLoadDotEnvDoesNotClobber(t *testing.T) {
	path := writeTempEnv(t, "TEST_WM_KEEP=from-file\n")
	t.Setenv("TEST_WM_KEEP", "from-env")

	loadDotEnv(path)

	if got := os.Getenv("TEST_WM_KEEP"); got != "from-env" {
		t.Errorf("existing value clobbered: got %q", got)
	}
}

func TestLoadDotEnvValueWithEquals(t *testing.T) {
	path := writeTempEnv(t, "TEST_WM_EQ=a=b=c\n")
	clearEnv(t, "TEST_WM_EQ")

	loadDotEnv(path)

	if got := os.Getenv("TEST_WM_EQ"); got != "a=b=c" {
		t.Errorf("expected a=b=c, got %q", got)
	}
}

func TestLoadDotEnvMissingFileIsNoop(t *testing.T) {
	loadDotEnv(filepath.Join(t.TempDir(), "does-not-exist.env"))
}

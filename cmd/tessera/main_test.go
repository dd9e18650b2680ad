package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// setupCLIHome points HOME at a temp dir so default paths, the state
// database, and the blob store all land in the test sandbox.
func setupCLIHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestStatusEmptyCorpus(t *testing.T) {
	setupCLIHome(t)

	out, err := runCLI(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Items: 0")
	requireContains(t, out, "normalize")
	requireContains(t, out, "link_neighbors")
}

func TestRetryNothingToReset(t *testing.T) {
	setupCLIHome(t)

	out, err := runCLI(t, "retry")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	requireContains(t, out, "No failed records to reset")
}

func TestRunRequiresItems(t *testing.T) {
	setupCLIHome(t)

	_, err := runCLI(t, "run")
	if err == nil {
		t.Fatal("expected run without ingested items to fail")
	}
	if !strings.Contains(err.Error(), "no items to process") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIngestThenStatus(t *testing.T) {
	setupCLIHome(t)

	dir := t.TempDir()
	export := `[{"id":"h-1","source":"book","text":"first highlight"},{"id":"h-2","source":"book","text":"second highlight"}]`
	if err := os.WriteFile(filepath.Join(dir, "book.json"), []byte(export), 0o644); err != nil {
		t.Fatalf("write export: %v", err)
	}

	out, err := runCLI(t, "ingest", dir)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	requireContains(t, out, "Ingested 2 items from 1 files (2 changed)")

	out, err = runCLI(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Items: 2")
}

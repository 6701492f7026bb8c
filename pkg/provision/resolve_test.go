package provision

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestResolveComponentPathPrefersStepSpecificOverDefault(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "components", "setup_default.wasm"), []byte("default"))
	writeFile(t, filepath.Join(root, "components", "setup_default__collect.wasm"), []byte("collect"))

	path, err := ResolveComponentPath(root, StepCollect)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if filepath.Base(path) != "setup_default__collect.wasm" {
		t.Fatalf("expected step-specific component, got %s", path)
	}
}

func TestResolveComponentPathFallsBackToSharedDefault(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "components", "setup_default.wasm"), []byte("default"))

	path, err := ResolveComponentPath(root, StepValidate)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if filepath.Base(path) != "setup_default.wasm" {
		t.Fatalf("expected shared default, got %s", path)
	}
}

func TestResolveComponentPathSearchesWasmThenPackRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "wasm", "setup_default.wasm"), []byte("in wasm dir"))

	path, err := ResolveComponentPath(root, StepApply)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(root, "wasm") {
		t.Fatalf("expected wasm/ directory, got %s", path)
	}
}

func TestResolveComponentPathDoesNotResolveWatOnly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "components", "setup_default.wat"), []byte("(module)"))

	_, err := ResolveComponentPath(root, StepSummary)
	if !IsKind(err, KindComponentNotFound) {
		t.Fatalf("expected ComponentNotFound for a .wat-only component, got %v", err)
	}
}

func TestResolveComponentPathReturnsComponentNotFound(t *testing.T) {
	root := t.TempDir()
	_, err := ResolveComponentPath(root, StepCollect)
	if !IsKind(err, KindComponentNotFound) {
		t.Fatalf("expected ComponentNotFound, got %v", err)
	}
}

func TestNewExecutorForPackSkipsStepsWithNoComponent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	executor, err := NewExecutorForPack(ctx, root, DefaultExecutionLimits())
	if err != nil {
		t.Fatalf("build executor: %v", err)
	}
	defer executor.Close(ctx)

	if len(executor.compiled) != 0 {
		t.Fatalf("expected no compiled components, got %d", len(executor.compiled))
	}
}

func TestResolvePackPathPassesThroughDirectory(t *testing.T) {
	root := t.TempDir()

	resolved, err := ResolvePackPath(root)
	if err != nil {
		t.Fatalf("resolve pack path: %v", err)
	}
	defer resolved.Cleanup()

	if resolved.Root != root {
		t.Fatalf("expected root %s, got %s", root, resolved.Root)
	}
}

func TestResolvePackPathExtractsGtpackArchive(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "pack.gtpack")

	archiveFile, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	zw := zip.NewWriter(archiveFile)
	writer, err := zw.Create("manifest.json")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := writer.Write([]byte(`{"id":"test-pack","version":"1.0.0"}`)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := archiveFile.Close(); err != nil {
		t.Fatalf("close archive file: %v", err)
	}

	resolved, err := ResolvePackPath(archivePath)
	if err != nil {
		t.Fatalf("resolve pack path: %v", err)
	}
	defer resolved.Cleanup()

	data, err := os.ReadFile(filepath.Join(resolved.Root, "manifest.json"))
	if err != nil {
		t.Fatalf("read extracted manifest: %v", err)
	}
	if string(data) != `{"id":"test-pack","version":"1.0.0"}` {
		t.Fatalf("unexpected extracted content: %s", data)
	}
}

func TestResolvePackPathRejectsZipSlip(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.gtpack")

	archiveFile, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	zw := zip.NewWriter(archiveFile)
	writer, err := zw.Create("../../etc/evil")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := writer.Write([]byte("gotcha")); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := archiveFile.Close(); err != nil {
		t.Fatalf("close archive file: %v", err)
	}

	_, err = ResolvePackPath(archivePath)
	if !IsKind(err, KindDecode) {
		t.Fatalf("expected a decode error rejecting the escaping entry, got %v", err)
	}
}

package target

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRootsResolve(t *testing.T) {
	roots := Roots{
		"default": "file:///data/outputs/",
		"reports": "s3://bucket/reports",
	}

	got, err := roots.Resolve("default", "model/v1.bin")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := "file:///data/outputs/model/v1.bin"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got, err = roots.Resolve("reports", "/2024/summary.md")
	if err != nil {
		t.Fatalf("resolve with leading slash: %v", err)
	}
	if want := "s3://bucket/reports/2024/summary.md"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if _, err := roots.Resolve("missing", "x"); err == nil {
		t.Error("expected error for unknown root")
	}
	if _, err := roots.Resolve("default", "../secrets"); err == nil {
		t.Error("expected error for escaping path")
	}
	if _, err := roots.Resolve("default", ""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestRootsMerge(t *testing.T) {
	base := Roots{"default": "file:///a", "reports": "file:///b"}
	merged := base.Merge(Roots{"default": "file:///override"})

	if merged["default"] != "file:///override" {
		t.Errorf("override not applied: %q", merged["default"])
	}
	if merged["reports"] != "file:///b" {
		t.Errorf("untouched root changed: %q", merged["reports"])
	}
	if base["default"] != "file:///a" {
		t.Error("merge mutated the receiver")
	}
}

func TestFileTargetLifecycle(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "out.txt")
	tgt := NewFile(path)

	exists, err := tgt.Exists(ctx)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("target exists before write")
	}

	if err := tgt.WriteString("hello"); err != nil {
		t.Fatalf("write: %v", err)
	}

	exists, err = tgt.Exists(ctx)
	if err != nil {
		t.Fatalf("exists after write: %v", err)
	}
	if !exists {
		t.Fatal("target missing after write")
	}

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("body = %q", body)
	}
}

func TestFileTargetURIStripsScheme(t *testing.T) {
	tgt := NewFile("file:///tmp/x")
	if tgt.Path() != "/tmp/x" {
		t.Errorf("path = %q", tgt.Path())
	}
	if tgt.URI() != "file:///tmp/x" {
		t.Errorf("uri = %q", tgt.URI())
	}
}

func TestMemoryTarget(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tgt := store.Target("a/b")

	if exists, _ := tgt.Exists(ctx); exists {
		t.Fatal("exists before write")
	}
	tgt.Write([]byte("data"))
	if exists, _ := tgt.Exists(ctx); !exists {
		t.Fatal("missing after write")
	}
	if string(tgt.Read()) != "data" {
		t.Errorf("read = %q", tgt.Read())
	}

	// Same key through a second handle sees the same body.
	if string(store.Target("a/b").Read()) != "data" {
		t.Error("second handle does not share state")
	}
}

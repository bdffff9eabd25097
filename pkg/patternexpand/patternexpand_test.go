package patternexpand

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHasMeta(t *testing.T) {
	if !HasMeta("agents/*.md") {
		t.Error("expected HasMeta true for a glob path")
	}
	if HasMeta("agents/reviewer.md") {
		t.Error("expected HasMeta false for a plain path")
	}
}

func TestExpandDoubleStarCrossesDirectories(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"agents/reviewer.md",
		"agents/nested/helper.md",
		"snippets/other.md",
	)

	got, err := Expand(root, "agents/**/*.md")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	want := []string{"agents/nested/helper.md", "agents/reviewer.md"}
	if len(got) != len(want) {
		t.Fatalf("Expand() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expand()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExpandSingleStarDoesNotCrossDirectories(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "agents/reviewer.md", "agents/nested/helper.md")

	got, err := Expand(root, "agents/*.md")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(got) != 1 || got[0] != "agents/reviewer.md" {
		t.Errorf("Expand() = %v, want [agents/reviewer.md]", got)
	}
}

func TestExpandNoMatches(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "agents/reviewer.md")

	got, err := Expand(root, "snippets/*.md")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expand() = %v, want empty", got)
	}
}

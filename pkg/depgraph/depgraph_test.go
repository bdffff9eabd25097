package depgraph

import (
	"testing"

	"github.com/agpm-dev/agpm/pkg/agpmmanifest"
)

func TestExtractDependenciesNoFrontmatter(t *testing.T) {
	deps, err := ExtractDependencies([]byte("# just a heading\n"))
	if err != nil {
		t.Fatalf("ExtractDependencies() error = %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("expected no deps, got %v", deps)
	}
}

func TestExtractDependenciesListField(t *testing.T) {
	content := []byte("---\ndependencies:\n  - official:snippets/helper.md\n  - ./local/other.md\n---\nbody\n")
	deps, err := ExtractDependencies(content)
	if err != nil {
		t.Fatalf("ExtractDependencies() error = %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("expected 2 deps, got %d", len(deps))
	}
	if deps[0].Source != "official" || deps[0].Path != "snippets/helper.md" {
		t.Errorf("deps[0] = %+v", deps[0])
	}
	if !deps[1].Local || deps[1].Path != "./local/other.md" {
		t.Errorf("deps[1] = %+v", deps[1])
	}
}

func TestExtractDependenciesRejectsNonStringList(t *testing.T) {
	content := []byte("---\ndependencies:\n  - 42\n---\nbody\n")
	if _, err := ExtractDependencies(content); err == nil {
		t.Error("expected error for non-string dependency entry")
	}
}

func TestWalkerDetectsCycle(t *testing.T) {
	w := NewWalker()
	spec := agpmmanifest.DepSpec{Source: "official", Path: "agents/a.md"}

	ok, err := w.Visit(spec, 0)
	if err != nil || !ok {
		t.Fatalf("first visit: ok=%v err=%v", ok, err)
	}

	ok, err = w.Visit(spec, 1)
	if err != nil {
		t.Fatalf("second visit error = %v", err)
	}
	if ok {
		t.Error("second visit of the same spec should not recurse")
	}
}

func TestWalkerRejectsExcessiveDepth(t *testing.T) {
	w := NewWalker()
	spec := agpmmanifest.DepSpec{Source: "official", Path: "agents/deep.md"}
	if _, err := w.Visit(spec, MaxDepth+1); err == nil {
		t.Error("expected an error once MaxDepth is exceeded")
	}
}

package agpmmanifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
)

func boolPtr(b bool) *bool { return &b }

func TestLoadMissingManifest(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load() should fail when agpm.toml is absent")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{
		Version:     1,
		DefaultTool: "claude-code",
		Sources: map[string]Source{
			"official": {URL: "https://github.com/acme/agents.git"},
		},
		Agents: map[string]Dependency{
			"reviewer": {Spec: "official:agents/reviewer.md@v1.0.0"},
		},
	}
	if err := m.Save(dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultTool != "claude-code" {
		t.Errorf("DefaultTool = %q", loaded.DefaultTool)
	}
	if loaded.Agents["reviewer"].Spec != "official:agents/reviewer.md@v1.0.0" {
		t.Errorf("Agents[reviewer].Spec = %q", loaded.Agents["reviewer"].Spec)
	}
}

func TestPrivateManifestMergesOver(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{
		Version: 1,
		Sources: map[string]Source{"official": {URL: "https://github.com/acme/agents.git"}},
		Agents:  map[string]Dependency{"reviewer": {Spec: "official:agents/reviewer.md"}},
	}
	if err := m.Save(dir); err != nil {
		t.Fatal(err)
	}

	priv := &Manifest{
		Sources: map[string]Source{"internal": {URL: "git@internal:acme/agents.git"}},
		Agents:  map[string]Dependency{"reviewer": {Spec: "internal:agents/reviewer.md"}},
	}
	privData, err := toml.Marshal(priv)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, PrivateManifestFileName), privData, 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Agents["reviewer"].Spec != "internal:agents/reviewer.md" {
		t.Errorf("private manifest did not override: got %q", loaded.Agents["reviewer"].Spec)
	}
	if _, ok := loaded.Sources["internal"]; !ok {
		t.Error("private source was not merged in")
	}
}

func TestValidateRejectsEmptySpec(t *testing.T) {
	m := &Manifest{Version: 1, Agents: map[string]Dependency{"bad": {Spec: ""}}}
	if err := m.Validate(); err == nil {
		t.Error("Validate() should reject an empty spec")
	}
}

func TestValidateRejectsBadName(t *testing.T) {
	m := &Manifest{Version: 1, Agents: map[string]Dependency{"Bad_Name": {Spec: "x:y"}}}
	if err := m.Validate(); err == nil {
		t.Error("Validate() should reject an uppercase/underscore name")
	}
}

func TestShouldInstall(t *testing.T) {
	d := Dependency{Spec: "x:y"}
	if !d.ShouldInstall() {
		t.Error("nil Install should default to true")
	}
	d.Install = boolPtr(false)
	if d.ShouldInstall() {
		t.Error("explicit false Install should be honored")
	}
}

func TestAllEntriesDeterministicOrder(t *testing.T) {
	m := &Manifest{
		Version: 1,
		Agents: map[string]Dependency{
			"zeta":  {Spec: "x:z"},
			"alpha": {Spec: "x:a"},
		},
	}
	entries := m.AllEntries()
	if len(entries) != 2 || entries[0].Name != "alpha" || entries[1].Name != "zeta" {
		t.Errorf("AllEntries() not sorted: %+v", entries)
	}
}

func TestParseDepSpec(t *testing.T) {
	tests := []struct {
		in      string
		want    DepSpec
		wantErr bool
	}{
		{"official:agents/reviewer.md@v1.0.0", DepSpec{Source: "official", Path: "agents/reviewer.md", Version: "v1.0.0"}, false},
		{"official:agents/reviewer.md", DepSpec{Source: "official", Path: "agents/reviewer.md"}, false},
		{"./local/agent.md", DepSpec{Local: true, Path: "./local/agent.md"}, false},
		{"official:agents/**/*.md", DepSpec{Source: "official", Path: "agents/**/*.md"}, false},
		{"", DepSpec{}, true},
		{"official:", DepSpec{}, true},
	}
	for _, tt := range tests {
		got, err := ParseDepSpec(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDepSpec(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDepSpec(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDepSpec(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestEffectiveRefPrecedence(t *testing.T) {
	tests := []struct {
		name string
		dep  Dependency
		want string
	}{
		{"version only", Dependency{}, "v1.0.0"},
		{"branch over version", Dependency{Branch: "develop"}, "develop"},
		{"rev over branch and version", Dependency{Branch: "develop", Rev: "abc123"}, "abc123"},
	}
	for _, tt := range tests {
		if got := tt.dep.EffectiveRef("v1.0.0"); got != tt.want {
			t.Errorf("%s: EffectiveRef() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestPatchesForOrdersProjectBeforePrivate(t *testing.T) {
	m := &Manifest{
		Version: 1,
		Patches: map[string]Patch{
			"fix-header": {Diff: "project-diff"},
			"local-tweak": {Diff: "private-diff"},
		},
		ProjectPatches: map[string]map[string]map[string]PatchRef{
			"agents": {"reviewer": {"AGENTS.md": PatchRef{Patches: []string{"fix-header"}}}},
		},
		PrivatePatches: map[string]map[string]map[string]PatchRef{
			"agents": {"reviewer": {"AGENTS.md": PatchRef{Patches: []string{"local-tweak"}}}},
		},
	}

	got, err := m.PatchesFor(KindAgent, "reviewer", "AGENTS.md")
	if err != nil {
		t.Fatalf("PatchesFor() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 patches, got %d: %+v", len(got), got)
	}
	if got[0].Name != "fix-header" || got[0].Private {
		t.Errorf("first patch = %+v, want project fix-header", got[0])
	}
	if got[1].Name != "local-tweak" || !got[1].Private {
		t.Errorf("second patch = %+v, want private local-tweak", got[1])
	}
}

func TestPatchesForUndefinedNameErrors(t *testing.T) {
	m := &Manifest{
		Version: 1,
		ProjectPatches: map[string]map[string]map[string]PatchRef{
			"agents": {"reviewer": {"AGENTS.md": PatchRef{Patches: []string{"missing"}}}},
		},
	}
	if _, err := m.PatchesFor(KindAgent, "reviewer", "AGENTS.md"); err == nil {
		t.Error("PatchesFor() should error when a referenced patch name is undeclared")
	}
}

func TestValidateRejectsUndefinedPatchReference(t *testing.T) {
	m := &Manifest{
		Version: 1,
		Agents:  map[string]Dependency{"reviewer": {Spec: "x:y"}},
		PrivatePatches: map[string]map[string]map[string]PatchRef{
			"agents": {"reviewer": {"AGENTS.md": PatchRef{Patches: []string{"missing"}}}},
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("Validate() should reject a private-patches reference to an undeclared patch")
	}
}

func TestMergeKeepsProjectPatchesAuthoritative(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{
		Version: 1,
		Agents:  map[string]Dependency{"reviewer": {Spec: "x:y"}},
		Patches: map[string]Patch{"tracked": {Diff: "d1"}},
		ProjectPatches: map[string]map[string]map[string]PatchRef{
			"agents": {"reviewer": {"AGENTS.md": PatchRef{Patches: []string{"tracked"}}}},
		},
	}
	if err := m.Save(dir); err != nil {
		t.Fatal(err)
	}

	priv := &Manifest{
		Patches: map[string]Patch{"local": {Diff: "d2"}},
		PrivatePatches: map[string]map[string]map[string]PatchRef{
			"agents": {"reviewer": {"AGENTS.md": PatchRef{Patches: []string{"local"}}}},
		},
		ProjectPatches: map[string]map[string]map[string]PatchRef{
			"agents": {"reviewer": {"AGENTS.md": PatchRef{Patches: []string{"should-not-apply"}}}},
		},
	}
	privData, err := toml.Marshal(priv)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, PrivateManifestFileName), privData, 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got, err := loaded.PatchesFor(KindAgent, "reviewer", "AGENTS.md")
	if err != nil {
		t.Fatalf("PatchesFor() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "tracked" || got[1].Name != "local" {
		t.Errorf("PatchesFor() = %+v, want [tracked, local] (project table untouched by merge)", got)
	}
}

func TestDepSpecIsPattern(t *testing.T) {
	d, _ := ParseDepSpec("official:agents/**/*.md")
	if !d.IsPattern() {
		t.Error("expected glob spec to report IsPattern() == true")
	}
	d2, _ := ParseDepSpec("official:agents/reviewer.md")
	if d2.IsPattern() {
		t.Error("expected plain path to report IsPattern() == false")
	}
}

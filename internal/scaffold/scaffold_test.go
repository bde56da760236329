package scaffold

import (
	"testing"

	"github.com/coderunner/controlplane/internal/domain"
)

func TestGenerateDeterministic(t *testing.T) {
	m := Manifest{Entities: []Entity{{Name: "Post", Fields: []Field{
		{Name: "title", Kind: FieldText, Required: true},
		{Name: "body", Kind: FieldLongText},
	}}}}

	a := Generate(m)
	b := Generate(m)
	if len(a) != len(b) {
		t.Fatalf("non-deterministic file count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Path != b[i].Path || string(a[i].Content) != string(b[i].Content) {
			t.Fatalf("non-deterministic output at index %d", i)
		}
	}

	wantPaths := map[string]bool{"package.json": true, "index.js": true, "database.js": true, "README.md": true}
	for _, f := range a {
		if !wantPaths[f.Path] {
			t.Errorf("unexpected generated file %q", f.Path)
		}
	}
}

func TestMergeUserFilesWin(t *testing.T) {
	generated := []domain.FileEntry{{Path: "index.js", Content: []byte("generated")}}
	user := []domain.FileEntry{{Path: "index.js", Content: []byte("user")}, {Path: "extra.txt", Content: []byte("x")}}

	merged := Merge(generated, user)
	byPath := map[string]string{}
	for _, f := range merged {
		byPath[f.Path] = string(f.Content)
	}
	if byPath["index.js"] != "user" {
		t.Errorf("user file should win conflict, got %q", byPath["index.js"])
	}
	if byPath["extra.txt"] != "x" {
		t.Errorf("expected extra.txt to be merged in")
	}
}

// Package scaffold is the project-to-scaffold generator: a pure
// function that takes a parsed manifest and returns the set of files a
// runnable project needs. It has no side effects and makes no external
// calls.
package scaffold

import (
	"fmt"
	"strings"

	"github.com/coderunner/controlplane/internal/domain"
)

// FieldKind is the declarative type of one manifest field.
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldLongText FieldKind = "longtext"
	FieldNumber   FieldKind = "number"
	FieldBoolean  FieldKind = "boolean"
)

// Field is one column on a manifest entity.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
}

// Entity is one declared data type in a manifest.
type Entity struct {
	Name   string
	Fields []Field
}

// Manifest is the small declarative description parsed from manifest.yaml.
type Manifest struct {
	Entities []Entity
}

// Generate synthesizes the standard set of files for a manifest-driven
// project. It is deterministic: the same manifest always yields the same
// files in the same order.
func Generate(m Manifest) []domain.FileEntry {
	var files []domain.FileEntry
	files = append(files, domain.FileEntry{Path: "package.json", Content: []byte(packageJSON())})
	files = append(files, domain.FileEntry{Path: "index.js", Content: []byte(indexJS(m))})
	files = append(files, domain.FileEntry{Path: "database.js", Content: []byte(databaseJS(m))})
	files = append(files, domain.FileEntry{Path: "README.md", Content: []byte(readme(m))})
	return files
}

// Merge overlays generated files with user-provided ones; user files always
// win on a path conflict.
func Merge(generated, user []domain.FileEntry) []domain.FileEntry {
	byPath := make(map[string]domain.FileEntry, len(generated)+len(user))
	var order []string
	for _, f := range generated {
		if _, exists := byPath[f.Path]; !exists {
			order = append(order, f.Path)
		}
		byPath[f.Path] = f
	}
	for _, f := range user {
		if _, exists := byPath[f.Path]; !exists {
			order = append(order, f.Path)
		}
		byPath[f.Path] = f
	}
	merged := make([]domain.FileEntry, 0, len(order))
	for _, p := range order {
		merged = append(merged, byPath[p])
	}
	return merged
}

func packageJSON() string {
	return `{
  "name": "generated-app",
  "version": "1.0.0",
  "main": "index.js",
  "scripts": { "start": "node index.js" },
  "dependencies": { "express": "^4.19.0" }
}
`
}

func indexJS(m Manifest) string {
	var b strings.Builder
	b.WriteString("const express = require('express');\n")
	b.WriteString("const db = require('./database');\n")
	b.WriteString("const app = express();\n")
	b.WriteString("app.use(express.json());\n\n")
	for _, e := range m.Entities {
		route := strings.ToLower(e.Name)
		fmt.Fprintf(&b, "app.get('/%ss', async (req, res) => res.json(await db.list%s()));\n", route, e.Name)
		fmt.Fprintf(&b, "app.post('/%ss', async (req, res) => res.json(await db.create%s(req.body)));\n", route, e.Name)
	}
	b.WriteString("\nconst port = process.env.PORT || 3000;\n")
	b.WriteString("app.listen(port, () => console.log(`listening on ${port}`));\n")
	return b.String()
}

func databaseJS(m Manifest) string {
	var b strings.Builder
	b.WriteString("// Generated in-memory store. Replace with a real database for production use.\n")
	for _, e := range m.Entities {
		fmt.Fprintf(&b, "const %sStore = [];\n", strings.ToLower(e.Name))
		fmt.Fprintf(&b, "async function list%s() { return %sStore; }\n", e.Name, strings.ToLower(e.Name))
		fmt.Fprintf(&b, "async function create%s(data) { %sStore.push(data); return data; }\n", e.Name, strings.ToLower(e.Name))
	}
	b.WriteString("\nmodule.exports = {")
	for i, e := range m.Entities {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "list%s, create%s", e.Name, e.Name)
	}
	b.WriteString("};\n")
	return b.String()
}

func readme(m Manifest) string {
	var b strings.Builder
	b.WriteString("# Generated project\n\nEntities:\n")
	for _, e := range m.Entities {
		fmt.Fprintf(&b, "- %s (%d fields)\n", e.Name, len(e.Fields))
	}
	return b.String()
}

package orchestrator

import (
	"fmt"

	"go.yaml.in/yaml/v2"

	"github.com/coderunner/controlplane/internal/scaffold"
)

// manifestDoc mirrors the small declarative shape of manifest.yaml.
type manifestDoc struct {
	Entities []struct {
		Name   string `yaml:"name"`
		Fields []struct {
			Name     string `yaml:"name"`
			Type     string `yaml:"type"`
			Required bool   `yaml:"required"`
		} `yaml:"fields"`
	} `yaml:"entities"`
}

func parseManifest(content []byte) (scaffold.Manifest, error) {
	var doc manifestDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return scaffold.Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}

	var m scaffold.Manifest
	for _, e := range doc.Entities {
		entity := scaffold.Entity{Name: e.Name}
		for _, f := range e.Fields {
			kind, err := fieldKind(f.Type)
			if err != nil {
				return scaffold.Manifest{}, err
			}
			entity.Fields = append(entity.Fields, scaffold.Field{
				Name:     f.Name,
				Kind:     kind,
				Required: f.Required,
			})
		}
		m.Entities = append(m.Entities, entity)
	}
	return m, nil
}

func fieldKind(s string) (scaffold.FieldKind, error) {
	switch scaffold.FieldKind(s) {
	case scaffold.FieldText, scaffold.FieldLongText, scaffold.FieldNumber, scaffold.FieldBoolean:
		return scaffold.FieldKind(s), nil
	default:
		return "", fmt.Errorf("unknown manifest field type %q", s)
	}
}

package config

import (
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Manifest is the subset of the app manifest that carries the push project id.
type Manifest struct {
	Expo struct {
		Name  string `yaml:"name"`
		Slug  string `yaml:"slug"`
		Extra struct {
			EAS struct {
				ProjectID string `yaml:"projectId"`
			} `yaml:"eas"`
		} `yaml:"extra"`
	} `yaml:"expo"`
	EAS struct {
		ProjectID string `yaml:"projectId"`
	} `yaml:"eas"`
}

// LoadManifest reads an app manifest. Errors from os.ReadFile are returned
// unwrapped so callers can check os.IsNotExist.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse app manifest: %w", err)
	}
	return &m, nil
}

// ProjectID prefers expo.extra.eas.projectId and falls back to eas.projectId.
func (m *Manifest) ProjectID() string {
	if id := strings.TrimSpace(m.Expo.Extra.EAS.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(m.EAS.ProjectID)
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mockpit/internal/models"
)

// demoFile is the on-disk shape of the bundled demo dataset.
type demoFile struct {
	Mappings []demoMapping `yaml:"mappings"`
}

type demoMapping struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
	Request  struct {
		Method string `yaml:"method"`
		URL    string `yaml:"url"`
	} `yaml:"request"`
	Response struct {
		Status int    `yaml:"status"`
		Body   string `yaml:"body"`
	} `yaml:"response"`
}

// LoadDemoMappings reads the bundled demo mapping set. Served only when the
// remote is unreachable and no snapshot could be recovered.
func LoadDemoMappings(filePath string) ([]*models.Mapping, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read demo data file: %w", err)
	}

	var file demoFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse demo data YAML: %w", err)
	}

	mappings := make([]*models.Mapping, 0, len(file.Mappings))
	for _, d := range file.Mappings {
		m := &models.Mapping{
			ID:       d.ID,
			Name:     d.Name,
			Priority: d.Priority,
			Request:  &models.RequestSpec{Method: d.Request.Method, URL: d.Request.URL},
			Response: &models.ResponseSpec{Status: d.Response.Status, Body: d.Response.Body},
			Metadata: map[string]any{"demo": true},
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

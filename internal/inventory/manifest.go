package inventory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest is returned when an import manifest cannot be decoded or
// fails validation.
var ErrInvalidManifest = errors.New("invalid import manifest")

// PartInput is one part row in an import manifest.
type PartInput struct {
	SKU         string `json:"sku" yaml:"sku"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Quantity    int    `json:"quantity" yaml:"quantity"`
	Location    string `json:"location" yaml:"location"`
}

// Manifest is a batch of parts to import.
type Manifest struct {
	Parts []PartInput `json:"parts" yaml:"parts"`
}

// ParseManifest decodes body as YAML or JSON depending on contentType and
// validates the result. An empty or unknown content type is treated as JSON.
func ParseManifest(contentType string, body []byte) (*Manifest, error) {
	var m Manifest
	if isYAML(contentType) {
		dec := yaml.NewDecoder(bytes.NewReader(body))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidManifest, err)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidManifest, err)
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that the manifest is non-empty, every part has a SKU and
// name, quantities are non-negative, and no SKU repeats.
func (m *Manifest) Validate() error {
	if len(m.Parts) == 0 {
		return fmt.Errorf("%w: no parts", ErrInvalidManifest)
	}

	seen := make(map[string]int, len(m.Parts))
	for i, p := range m.Parts {
		sku := strings.TrimSpace(p.SKU)
		switch {
		case sku == "":
			return fmt.Errorf("%w: parts[%d]: sku is required", ErrInvalidManifest, i)
		case strings.TrimSpace(p.Name) == "":
			return fmt.Errorf("%w: parts[%d]: name is required", ErrInvalidManifest, i)
		case p.Quantity < 0:
			return fmt.Errorf("%w: parts[%d]: quantity must be >= 0", ErrInvalidManifest, i)
		}
		if j, dup := seen[sku]; dup {
			return fmt.Errorf("%w: parts[%d]: sku %q duplicates parts[%d]", ErrInvalidManifest, i, sku, j)
		}
		seen[sku] = i
	}
	return nil
}

func isYAML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mt {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return true
	}
	return false
}

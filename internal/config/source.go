package config

import (
	"errors"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// Source loads a raw configuration document.
type Source interface {
	Load(path string) (map[string]any, error)
}

// FileSource reads YAML or JSON documents from disk.
type FileSource struct{}

// Load reads path and decodes it into a generic document. A missing file
// yields a NotFound error; undecodable content yields a ParseError.
func (FileSource) Load(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrConfigNotFound.Withf("config file %s does not exist", path)
		}
		return nil, domain.ErrConfigNotFound.Wrap(err, "read config file "+path)
	}
	return Parse(data)
}

// Parse decodes YAML or JSON bytes into a generic document.
func Parse(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, domain.ErrConfigParse.Wrap(err, "parse config document")
	}
	if doc == nil {
		return nil, domain.ErrConfigParse.Withf("config document is empty")
	}
	return doc, nil
}

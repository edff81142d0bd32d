package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mindgains/orchestrator/internal/orchestrator"
)

// registryFile is the on-disk shape of a registry override:
//
//	providers:
//	  - id: claude
//	    model: claude-3-5-haiku-20241022
//	    capabilities: [factual, explanatory, analysis]
//	    cost_per_request: 0.015
//	    expected_latency: 2500ms
//
// Declaration order is significant: it breaks cost ties and orders rotation.
type registryFile struct {
	Providers []orchestrator.ProviderConfig `yaml:"providers"`
}

// LoadRegistry reads a registry override file. Availability is never read
// from the file; it is derived from credentials.
func LoadRegistry(path string) ([]orchestrator.ProviderConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry file: %w", err)
	}
	defer f.Close()

	configs, err := DecodeRegistry(f)
	if err != nil {
		return nil, fmt.Errorf("registry file %s: %w", path, err)
	}
	return configs, nil
}

func DecodeRegistry(r io.Reader) ([]orchestrator.ProviderConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file registryFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no providers declared")
		}
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}
	if len(file.Providers) == 0 {
		return nil, errors.New("no providers declared")
	}
	if _, err := orchestrator.NewRegistry(file.Providers); err != nil {
		return nil, err
	}
	return file.Providers, nil
}

// EncodeRegistry writes configs in the registry file format.
func EncodeRegistry(w io.Writer, configs []orchestrator.ProviderConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(registryFile{Providers: configs}); err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	return enc.Close()
}

package model

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// XTTSConfig is the subset of the checkpoint's config.json the worker reads.
type XTTSConfig struct {
	Model     string      `json:"model"`
	Languages []string    `json:"languages"`
	Audio     AudioConfig `json:"audio"`
}

// AudioConfig holds the output sample rate declared by the checkpoint.
type AudioConfig struct {
	OutputSampleRate int `json:"output_sample_rate"`
}

// ReadXTTSConfig reads and decodes a checkpoint configuration file.
func ReadXTTSConfig(path string) (*XTTSConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model config '%s': %w", path, err)
	}

	var cfg XTTSConfig

	err = json.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model config '%s': %w", path, err)
	}

	return &cfg, nil
}

// SupportsLanguage reports whether the checkpoint lists language. A config
// without a language list accepts every language.
func (c *XTTSConfig) SupportsLanguage(language string) bool {
	if c == nil || len(c.Languages) == 0 {
		return true
	}

	return slices.Contains(c.Languages, language)
}

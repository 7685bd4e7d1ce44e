package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Settings is the per-user preferences document. It is persisted as a YAML
// document in users.settings, a format shared with other services reading
// the same table.
type Settings struct {
	MessagePreview bool `json:"message_preview" yaml:"message_preview"`
}

// DefaultSettings returns the document stored for newly created users.
func DefaultSettings() Settings {
	return Settings{MessagePreview: false}
}

// EncodeSettings renders s as a YAML document with an explicit start marker.
func EncodeSettings(s Settings) (string, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("model: encoding settings: %w", err)
	}
	return "---\n" + string(out), nil
}

// DecodeSettings parses a stored settings document. An empty document
// yields the defaults; unknown keys are ignored.
func DecodeSettings(doc string) (Settings, error) {
	s := DefaultSettings()
	if doc == "" {
		return s, nil
	}
	if err := yaml.Unmarshal([]byte(doc), &s); err != nil {
		return Settings{}, fmt.Errorf("model: decoding settings: %w", err)
	}
	return s, nil
}

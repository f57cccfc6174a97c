// Package voices holds the voice settings value type and the static catalog
// of voices, models and ranges the settings are chosen from.
package voices

import (
	"errors"
	"fmt"
)

// ErrInvalidSettings is returned by Validate for out-of-range or incomplete settings
var ErrInvalidSettings = errors.New("invalid voice settings")

// Voice identifies a backend voice and its display metadata
type Voice struct {
	Name         string `json:"name" yaml:"name"`
	Accent       string `json:"accent" yaml:"accent"`
	Gender       string `json:"gender" yaml:"gender"`
	Value        string `json:"value" yaml:"value"` // Backend voice identifier
	Language     string `json:"language,omitempty" yaml:"language,omitempty"`
	LanguageCode string `json:"languageCode,omitempty" yaml:"languageCode,omitempty"`
	Sample       string `json:"sample,omitempty" yaml:"sample,omitempty"` // Sample URL
	Style        string `json:"style,omitempty" yaml:"style,omitempty"`
}

// Settings is the voice/model selection sent with every synthesis request
type Settings struct {
	Voice       Voice   `json:"voice" yaml:"voice"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Model       string  `json:"model" yaml:"model"`
	Speed       float64 `json:"speed" yaml:"speed"`
}

// DefaultSettings returns the catalog defaults for every field
func DefaultSettings() Settings {
	c := DefaultCatalog()
	return Settings{
		Voice:       c.DefaultVoice(),
		Temperature: c.Temperature.Default,
		Model:       c.Models.Default,
		Speed:       c.Speed.Default,
	}
}

// Validate checks the settings against the catalog ranges
func (s Settings) Validate() error {
	c := DefaultCatalog()
	if s.Voice.Value == "" {
		return fmt.Errorf("%w: voice value is required", ErrInvalidSettings)
	}
	if s.Temperature < c.Temperature.Min || s.Temperature > c.Temperature.Max {
		return fmt.Errorf("%w: temperature %.2f outside [%.1f, %.1f]", ErrInvalidSettings, s.Temperature, c.Temperature.Min, c.Temperature.Max)
	}
	if s.Speed < c.Speed.Min || s.Speed > c.Speed.Max {
		return fmt.Errorf("%w: speed %.2f outside [%.1f, %.1f]", ErrInvalidSettings, s.Speed, c.Speed.Min, c.Speed.Max)
	}
	if _, ok := c.Model(s.Model); !ok {
		return fmt.Errorf("%w: unknown model %q", ErrInvalidSettings, s.Model)
	}
	return nil
}

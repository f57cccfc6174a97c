package tts

import (
	"fmt"

	"github.com/pagecast/narrator/internal/config"
)

// New returns the synthesizer selected by cfg.TTSProvider
func New(cfg *config.Config) (Synthesizer, error) {
	switch cfg.TTSProvider {
	case "playht":
		return NewPlayHTClient(cfg), nil
	case "openai":
		return NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown TTS provider %q", cfg.TTSProvider)
	}
}

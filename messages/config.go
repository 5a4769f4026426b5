// Package messages defines what travels over the session connection: the
// one-time session configuration going up, and the classification of
// everything coming down.
package messages

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrNoVoicePrompt is returned when a SessionConfig has no voice preset
var ErrNoVoicePrompt = errors.New("session config: voice_prompt is required")

const voicePromptExt = ".pt"

// KnownVoices lists the presets a PersonaPlex server ships with
var KnownVoices = map[string]struct{}{
	"NATF0": {}, "NATF1": {}, "NATF2": {}, "NATF3": {},
	"NATM0": {}, "NATM1": {}, "NATM2": {}, "NATM3": {},
	"VARF0": {}, "VARF1": {}, "VARF2": {}, "VARF3": {}, "VARF4": {},
	"VARM0": {}, "VARM1": {}, "VARM2": {}, "VARM3": {}, "VARM4": {},
}

// DefaultVoice is used when no voice is configured
const DefaultVoice = "NATF2"

// SessionConfig is the first (and only) text message a client sends.
type SessionConfig struct {
	VoicePrompt string `json:"voice_prompt"`
	TextPrompt  string `json:"text_prompt,omitempty"`
}

// NewSessionConfig builds the config for a preset name such as "natf2".
// The name is upper-cased and given the ".pt" suffix the server expects.
func NewSessionConfig(voice, textPrompt string) SessionConfig {
	return SessionConfig{
		VoicePrompt: VoicePromptFile(voice),
		TextPrompt:  textPrompt,
	}
}

// VoicePromptFile maps a preset name to its prompt filename
func VoicePromptFile(voice string) string {
	v := strings.TrimSpace(voice)
	if v == "" {
		return ""
	}
	if strings.HasSuffix(strings.ToLower(v), voicePromptExt) {
		v = v[:len(v)-len(voicePromptExt)]
	}
	return strings.ToUpper(v) + voicePromptExt
}

// IsKnownVoice reports whether voice names one of the shipped presets
func IsKnownVoice(voice string) bool {
	name := strings.TrimSuffix(VoicePromptFile(voice), voicePromptExt)
	_, ok := KnownVoices[name]
	return ok
}

// Validate checks the required fields
func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.VoicePrompt) == "" {
		return ErrNoVoicePrompt
	}
	return nil
}

// Encode renders the config as the JSON text payload sent on the wire
func (c SessionConfig) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	data, err := sonic.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode session config: %w", err)
	}
	return data, nil
}

// Voice returns the preset name without the file extension
func (c SessionConfig) Voice() string {
	return strings.TrimSuffix(c.VoicePrompt, voicePromptExt)
}

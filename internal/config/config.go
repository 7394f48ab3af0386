// Package config holds the relay's runtime configuration.
package config

import (
	"fmt"
	"slices"
	"time"
)

var (
	asrEngines = []string{"whisper", "cloudspeech"}
	llmEngines = []string{"openai", "agent", "gemini", "ollama"}
	ttsEngines = []string{"openai", "piper", "elevenlabs", "cartesia"}
)

type Config struct {
	Env         string
	Port        string
	DatabaseURL string

	ASREngine                  string
	ASRLanguage                string
	WhisperURL                 string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string

	LLMEngine    string
	LLMBaseURL   string
	LLMAPIKey    string
	LLMModel     string
	GeminiAPIKey string
	GeminiModel  string
	OllamaURL    string
	OllamaModel  string
	LLMMaxTokens int
	HistoryTurns int

	TTSEngine       string
	TTSURL          string
	TTSAPIKey       string
	TTSModel        string
	TTSVoice        string
	CartesiaAPIKey  string
	CartesiaVoiceID string
	CartesiaURL     string

	MQTTAPIURL    string
	MQTTAPIKey    string
	MQTTAPISecret string

	DefaultRoleID         string
	MaxConcurrentSessions int
	MaxFrameBytes         int64
	ASRTimeout            time.Duration
	CompletionTimeout     time.Duration
	SynthesisTimeout      time.Duration
	SideEffectTimeout     time.Duration
	LingerDelay           time.Duration
	HTTPPoolSize          int
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if !slices.Contains(asrEngines, c.ASREngine) {
		return fmt.Errorf("ASR_ENGINE must be one of %v, got %q", asrEngines, c.ASREngine)
	}
	if !slices.Contains(llmEngines, c.LLMEngine) {
		return fmt.Errorf("LLM_ENGINE must be one of %v, got %q", llmEngines, c.LLMEngine)
	}
	if !slices.Contains(ttsEngines, c.TTSEngine) {
		return fmt.Errorf("TTS_ENGINE must be one of %v, got %q", ttsEngines, c.TTSEngine)
	}
	for _, req := range c.engineFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required when %s", req.name, req.when)
		}
	}
	for _, pos := range []struct {
		name  string
		value int64
	}{
		{"LLM_MAX_TOKENS", int64(c.LLMMaxTokens)},
		{"MAX_CONCURRENT_SESSIONS", int64(c.MaxConcurrentSessions)},
		{"MAX_FRAME_BYTES", c.MaxFrameBytes},
		{"HTTP_POOL_SIZE", int64(c.HTTPPoolSize)},
		{"ASR_TIMEOUT", int64(c.ASRTimeout)},
		{"COMPLETION_TIMEOUT", int64(c.CompletionTimeout)},
		{"SYNTHESIS_TIMEOUT", int64(c.SynthesisTimeout)},
		{"SIDE_EFFECT_TIMEOUT", int64(c.SideEffectTimeout)},
	} {
		if pos.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", pos.name, pos.value)
		}
	}
	if c.HistoryTurns < 0 {
		return fmt.Errorf("HISTORY_TURNS must not be negative, got %d", c.HistoryTurns)
	}
	if c.LingerDelay < 0 {
		return fmt.Errorf("LINGER_DELAY must not be negative, got %s", c.LingerDelay)
	}
	if c.MQTTAPIURL != "" && (c.MQTTAPIKey == "" || c.MQTTAPISecret == "") {
		return fmt.Errorf("MQTT_API_KEY and MQTT_API_SECRET are required when MQTT_API_URL is set")
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
	when  string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "PORT", value: c.Port},
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "ASR_LANGUAGE", value: c.ASRLanguage},
		{name: "DEFAULT_ROLE_ID", value: c.DefaultRoleID},
	}
}

// engineFieldChecks lists settings needed only by the selected engines.
func (c *Config) engineFieldChecks() []requiredEnvField {
	var checks []requiredEnvField
	switch c.ASREngine {
	case "whisper":
		checks = append(checks, requiredEnvField{"WHISPER_URL", c.WhisperURL, "ASR_ENGINE=whisper"})
	case "cloudspeech":
		checks = append(checks,
			requiredEnvField{"GOOGLE_CLOUD_PROJECT_ID", c.GoogleCloudProjectID, "ASR_ENGINE=cloudspeech"},
			requiredEnvField{"GOOGLE_CLOUD_CREDENTIALS_JSON", c.GoogleCloudCredentialsJSON, "ASR_ENGINE=cloudspeech"},
		)
	}
	switch c.LLMEngine {
	case "openai", "agent":
		checks = append(checks, requiredEnvField{"LLM_API_KEY", c.LLMAPIKey, "LLM_ENGINE=" + c.LLMEngine})
	case "gemini":
		checks = append(checks, requiredEnvField{"GEMINI_API_KEY", c.GeminiAPIKey, "LLM_ENGINE=gemini"})
	case "ollama":
		checks = append(checks, requiredEnvField{"OLLAMA_URL", c.OllamaURL, "LLM_ENGINE=ollama"})
	}
	switch c.TTSEngine {
	case "openai":
		checks = append(checks, requiredEnvField{"TTS_URL", c.TTSURL, "TTS_ENGINE=openai"})
	case "piper":
		checks = append(checks, requiredEnvField{"TTS_URL", c.TTSURL, "TTS_ENGINE=piper"})
	case "elevenlabs":
		checks = append(checks,
			requiredEnvField{"TTS_API_KEY", c.TTSAPIKey, "TTS_ENGINE=elevenlabs"},
			requiredEnvField{"TTS_VOICE", c.TTSVoice, "TTS_ENGINE=elevenlabs"},
		)
	case "cartesia":
		checks = append(checks,
			requiredEnvField{"CARTESIA_API_KEY", c.CartesiaAPIKey, "TTS_ENGINE=cartesia"},
			requiredEnvField{"CARTESIA_VOICE_ID", c.CartesiaVoiceID, "TTS_ENGINE=cartesia"},
		)
	}
	return checks
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

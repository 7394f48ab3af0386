package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type envConfig struct {
	Env         string `env:"ENV" envDefault:"production"`
	Port        string `env:"PORT" envDefault:"8000"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"file:voice-relay.db?_busy_timeout=5000"`

	ASREngine                  string `env:"ASR_ENGINE" envDefault:"whisper"`
	ASRLanguage                string `env:"ASR_LANGUAGE" envDefault:"zh-CN"`
	WhisperURL                 string `env:"WHISPER_URL" envDefault:"http://localhost:8178"`
	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`

	LLMEngine    string `env:"LLM_ENGINE" envDefault:"openai"`
	LLMBaseURL   string `env:"LLM_BASE_URL" envDefault:"https://api.deepseek.com"`
	LLMAPIKey    string `env:"LLM_API_KEY"`
	LLMModel     string `env:"LLM_MODEL" envDefault:"deepseek-chat"`
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	OllamaURL    string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	OllamaModel  string `env:"OLLAMA_MODEL" envDefault:"qwen2.5:3b"`
	LLMMaxTokens int    `env:"LLM_MAX_TOKENS" envDefault:"512"`
	HistoryTurns int    `env:"HISTORY_TURNS" envDefault:"2"`

	TTSEngine       string `env:"TTS_ENGINE" envDefault:"openai"`
	TTSURL          string `env:"TTS_URL" envDefault:"https://api.openai.com/v1/audio/speech"`
	TTSAPIKey       string `env:"TTS_API_KEY"`
	TTSModel        string `env:"TTS_MODEL" envDefault:"gpt-4o-mini-tts"`
	TTSVoice        string `env:"TTS_VOICE" envDefault:"alloy"`
	CartesiaAPIKey  string `env:"CARTESIA_API_KEY"`
	CartesiaVoiceID string `env:"CARTESIA_VOICE_ID"`
	CartesiaURL     string `env:"CARTESIA_URL"`

	MQTTAPIURL    string `env:"MQTT_API_URL"`
	MQTTAPIKey    string `env:"MQTT_API_KEY"`
	MQTTAPISecret string `env:"MQTT_API_SECRET"`

	DefaultRoleID         string        `env:"DEFAULT_ROLE_ID" envDefault:"1"`
	MaxConcurrentSessions int           `env:"MAX_CONCURRENT_SESSIONS" envDefault:"100"`
	MaxFrameBytes         int64         `env:"MAX_FRAME_BYTES" envDefault:"1048576"`
	ASRTimeout            time.Duration `env:"ASR_TIMEOUT" envDefault:"15s"`
	CompletionTimeout     time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"30s"`
	SynthesisTimeout      time.Duration `env:"SYNTHESIS_TIMEOUT" envDefault:"20s"`
	SideEffectTimeout     time.Duration `env:"SIDE_EFFECT_TIMEOUT" envDefault:"30s"`
	LingerDelay           time.Duration `env:"LINGER_DELAY" envDefault:"5s"`
	HTTPPoolSize          int           `env:"HTTP_POOL_SIZE" envDefault:"100"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &Config{
		Env:                        raw.Env,
		Port:                       raw.Port,
		DatabaseURL:                raw.DatabaseURL,
		ASREngine:                  raw.ASREngine,
		ASRLanguage:                raw.ASRLanguage,
		WhisperURL:                 raw.WhisperURL,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		LLMEngine:                  raw.LLMEngine,
		LLMBaseURL:                 raw.LLMBaseURL,
		LLMAPIKey:                  raw.LLMAPIKey,
		LLMModel:                   raw.LLMModel,
		GeminiAPIKey:               raw.GeminiAPIKey,
		GeminiModel:                raw.GeminiModel,
		OllamaURL:                  raw.OllamaURL,
		OllamaModel:                raw.OllamaModel,
		LLMMaxTokens:               raw.LLMMaxTokens,
		HistoryTurns:               raw.HistoryTurns,
		TTSEngine:                  raw.TTSEngine,
		TTSURL:                     raw.TTSURL,
		TTSAPIKey:                  raw.TTSAPIKey,
		TTSModel:                   raw.TTSModel,
		TTSVoice:                   raw.TTSVoice,
		CartesiaAPIKey:             raw.CartesiaAPIKey,
		CartesiaVoiceID:            raw.CartesiaVoiceID,
		CartesiaURL:                raw.CartesiaURL,
		MQTTAPIURL:                 raw.MQTTAPIURL,
		MQTTAPIKey:                 raw.MQTTAPIKey,
		MQTTAPISecret:              raw.MQTTAPISecret,
		DefaultRoleID:              raw.DefaultRoleID,
		MaxConcurrentSessions:      raw.MaxConcurrentSessions,
		MaxFrameBytes:              raw.MaxFrameBytes,
		ASRTimeout:                 raw.ASRTimeout,
		CompletionTimeout:          raw.CompletionTimeout,
		SynthesisTimeout:           raw.SynthesisTimeout,
		SideEffectTimeout:          raw.SideEffectTimeout,
		LingerDelay:                raw.LingerDelay,
		HTTPPoolSize:               raw.HTTPPoolSize,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

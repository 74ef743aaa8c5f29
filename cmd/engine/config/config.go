package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/meetscribe/session-engine/cmd/engine/asr"
)

const (
	// defaults
	ASRProviderDefault         = asr.ProviderDeepgram
	AudioSourceModeDefault     = AudioSourceModeSystem
	TranslationProviderDefault = TranslationProviderMicrosoft
	SourceLanguageDefault      = "en"
	TargetLanguageDefault      = "cn"
	HintModelDefault           = "gpt-4o-mini"
	MicRMSThresholdDefault     = 0.015
)

// AudioSourceMode selects which capture sources feed the session.
type AudioSourceMode string

const (
	AudioSourceModeSystem     AudioSourceMode = "system"
	AudioSourceModeMicrophone AudioSourceMode = "microphone"
	AudioSourceModeMixed      AudioSourceMode = "mixed"
)

func (m AudioSourceMode) IsValid() bool {
	switch m {
	case AudioSourceModeSystem, AudioSourceModeMicrophone, AudioSourceModeMixed:
		return true
	default:
		return false
	}
}

// TranslationProvider selects how transcripts are translated. The Aliyun
// provider is a coupled realtime stream; Microsoft is request/response.
type TranslationProvider string

const (
	TranslationProviderAliyun    TranslationProvider = "aliyun"
	TranslationProviderMicrosoft TranslationProvider = "microsoft"
)

func (p TranslationProvider) IsValid() bool {
	switch p {
	case TranslationProviderAliyun, TranslationProviderMicrosoft:
		return true
	default:
		return false
	}
}

// SessionConfig is the pipeline settings aggregate read once per session
// start. The external settings layer persists it through ToMap/FromMap.
type SessionConfig struct {
	ASRProvider     asr.Provider
	AudioSourceMode AudioSourceMode
	MicrophoneID    string
	MicRMSThreshold float64

	SourceLanguage string
	TargetLanguage string

	TranslationEnabled  bool
	TranslationProvider TranslationProvider
	TranslatorEndpoint  string

	// Voiceprint settings are reserved and currently non-functional.
	VoiceprintEnabled  bool
	VoiceprintProvider string

	HintEnabled bool
	HintModel   string
	HintBaseURL string
}

// Secrets is an immutable snapshot of provider credentials handed to the
// session engine at start. The engine never persists or mutates it.
type Secrets struct {
	DeepgramAPIKey string

	AliyunAccessKeyID     string
	AliyunAccessKeySecret string
	AliyunAppKey          string

	TranslatorAPIKey string
	TranslatorRegion string

	HintAPIKey string
}

// Presence reports which credentials are set without exposing their values.
// It is the only credential information allowed into diagnostics.
func (s Secrets) Presence() map[string]bool {
	return map[string]bool{
		"deepgram_api_key":         s.DeepgramAPIKey != "",
		"aliyun_access_key_id":     s.AliyunAccessKeyID != "",
		"aliyun_access_key_secret": s.AliyunAccessKeySecret != "",
		"aliyun_app_key":           s.AliyunAppKey != "",
		"translator_api_key":       s.TranslatorAPIKey != "",
		"hint_api_key":             s.HintAPIKey != "",
	}
}

// HasAliyun reports whether the full Aliyun credential triple is present.
func (s Secrets) HasAliyun() bool {
	return s.AliyunAccessKeyID != "" && s.AliyunAccessKeySecret != "" && s.AliyunAppKey != ""
}

func (cfg SessionConfig) IsValid() error {
	if cfg == (SessionConfig{}) {
		return fmt.Errorf("config cannot be empty")
	}

	if !cfg.ASRProvider.IsValid() {
		return fmt.Errorf("ASRProvider value is not valid")
	}

	if !cfg.AudioSourceMode.IsValid() {
		return fmt.Errorf("AudioSourceMode value is not valid")
	}

	if cfg.SourceLanguage == "" {
		return fmt.Errorf("SourceLanguage cannot be empty")
	}

	if cfg.TargetLanguage == "" {
		return fmt.Errorf("TargetLanguage cannot be empty")
	}

	if cfg.MicRMSThreshold < 0 || cfg.MicRMSThreshold >= 1 {
		return fmt.Errorf("MicRMSThreshold should be in the range [0, 1)")
	}

	if cfg.TranslationEnabled {
		if !cfg.TranslationProvider.IsValid() {
			return fmt.Errorf("TranslationProvider value is not valid")
		}

		if cfg.TranslationProvider == TranslationProviderMicrosoft && cfg.TranslatorEndpoint != "" {
			u, err := url.Parse(cfg.TranslatorEndpoint)
			if err != nil {
				return fmt.Errorf("TranslatorEndpoint parsing failed: %w", err)
			} else if u.Scheme != "https" {
				return fmt.Errorf("TranslatorEndpoint parsing failed: invalid scheme %q", u.Scheme)
			}
		}
	}

	return nil
}

func (cfg *SessionConfig) SetDefaults() {
	if cfg.ASRProvider == "" {
		cfg.ASRProvider = ASRProviderDefault
	}

	if cfg.AudioSourceMode == "" {
		cfg.AudioSourceMode = AudioSourceModeDefault
	}

	if cfg.TranslationProvider == "" {
		cfg.TranslationProvider = TranslationProviderDefault
	}

	if cfg.SourceLanguage == "" {
		cfg.SourceLanguage = SourceLanguageDefault
	}

	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = TargetLanguageDefault
	}

	if cfg.MicRMSThreshold == 0 {
		cfg.MicRMSThreshold = MicRMSThresholdDefault
	}

	if cfg.HintModel == "" {
		cfg.HintModel = HintModelDefault
	}
}

func (cfg SessionConfig) ToMap() map[string]any {
	if cfg == (SessionConfig{}) {
		return nil
	}

	return map[string]any{
		"asr_provider":         string(cfg.ASRProvider),
		"audio_source_mode":    string(cfg.AudioSourceMode),
		"microphone_id":        cfg.MicrophoneID,
		"mic_rms_threshold":    cfg.MicRMSThreshold,
		"source_language":      cfg.SourceLanguage,
		"target_language":      cfg.TargetLanguage,
		"translation_enabled":  cfg.TranslationEnabled,
		"translation_provider": string(cfg.TranslationProvider),
		"translator_endpoint":  cfg.TranslatorEndpoint,
		"voiceprint_enabled":   cfg.VoiceprintEnabled,
		"voiceprint_provider":  cfg.VoiceprintProvider,
		"hint_enabled":         cfg.HintEnabled,
		"hint_model":           cfg.HintModel,
		"hint_base_url":        cfg.HintBaseURL,
	}
}

func (cfg *SessionConfig) FromMap(m map[string]any) *SessionConfig {
	if v, ok := m["asr_provider"].(string); ok {
		cfg.ASRProvider = asr.Provider(v)
	}
	if v, ok := m["audio_source_mode"].(string); ok {
		cfg.AudioSourceMode = AudioSourceMode(v)
	}
	cfg.MicrophoneID, _ = m["microphone_id"].(string)

	// mic_rms_threshold can be either float64 or int depending on whether
	// it's been previously marshaled or not.
	switch v := m["mic_rms_threshold"].(type) {
	case float64:
		cfg.MicRMSThreshold = v
	case int:
		cfg.MicRMSThreshold = float64(v)
	}

	cfg.SourceLanguage, _ = m["source_language"].(string)
	cfg.TargetLanguage, _ = m["target_language"].(string)
	cfg.TranslationEnabled, _ = m["translation_enabled"].(bool)
	if v, ok := m["translation_provider"].(string); ok {
		cfg.TranslationProvider = TranslationProvider(v)
	}
	cfg.TranslatorEndpoint, _ = m["translator_endpoint"].(string)
	cfg.VoiceprintEnabled, _ = m["voiceprint_enabled"].(bool)
	cfg.VoiceprintProvider, _ = m["voiceprint_provider"].(string)
	cfg.HintEnabled, _ = m["hint_enabled"].(bool)
	cfg.HintModel, _ = m["hint_model"].(string)
	cfg.HintBaseURL, _ = m["hint_base_url"].(string)

	return cfg
}

func FromEnv() (SessionConfig, Secrets, error) {
	var cfg SessionConfig
	if val := os.Getenv("ASR_PROVIDER"); val != "" {
		cfg.ASRProvider = asr.Provider(val)
	}
	if val := os.Getenv("AUDIO_SOURCE_MODE"); val != "" {
		cfg.AudioSourceMode = AudioSourceMode(val)
	}
	cfg.MicrophoneID = os.Getenv("MICROPHONE_ID")
	cfg.MicRMSThreshold, _ = strconv.ParseFloat(os.Getenv("MIC_RMS_THRESHOLD"), 64)
	cfg.SourceLanguage = os.Getenv("SOURCE_LANGUAGE")
	cfg.TargetLanguage = os.Getenv("TARGET_LANGUAGE")
	cfg.TranslationEnabled, _ = strconv.ParseBool(os.Getenv("TRANSLATION_ENABLED"))
	if val := os.Getenv("TRANSLATION_PROVIDER"); val != "" {
		cfg.TranslationProvider = TranslationProvider(val)
	}
	cfg.TranslatorEndpoint = os.Getenv("TRANSLATOR_ENDPOINT")
	cfg.HintEnabled, _ = strconv.ParseBool(os.Getenv("HINT_ENABLED"))
	cfg.HintModel = os.Getenv("HINT_MODEL")
	cfg.HintBaseURL = os.Getenv("HINT_BASE_URL")

	secrets := Secrets{
		DeepgramAPIKey:        os.Getenv("DEEPGRAM_API_KEY"),
		AliyunAccessKeyID:     os.Getenv("ALIYUN_ACCESS_KEY_ID"),
		AliyunAccessKeySecret: os.Getenv("ALIYUN_ACCESS_KEY_SECRET"),
		AliyunAppKey:          os.Getenv("ALIYUN_APP_KEY"),
		TranslatorAPIKey:      os.Getenv("TRANSLATOR_API_KEY"),
		TranslatorRegion:      os.Getenv("TRANSLATOR_REGION"),
		HintAPIKey:            os.Getenv("HINT_API_KEY"),
	}

	return cfg, secrets, nil
}

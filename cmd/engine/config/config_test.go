package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meetscribe/session-engine/cmd/engine/asr"
)

func TestConfigIsValid(t *testing.T) {
	validCfg := func() SessionConfig {
		var cfg SessionConfig
		cfg.SetDefaults()
		return cfg
	}

	t.Run("empty", func(t *testing.T) {
		var cfg SessionConfig
		require.EqualError(t, cfg.IsValid(), "config cannot be empty")
	})

	t.Run("defaults are valid", func(t *testing.T) {
		require.NoError(t, validCfg().IsValid())
	})

	t.Run("invalid ASRProvider", func(t *testing.T) {
		cfg := validCfg()
		cfg.ASRProvider = "whisper"
		require.EqualError(t, cfg.IsValid(), "ASRProvider value is not valid")
	})

	t.Run("invalid AudioSourceMode", func(t *testing.T) {
		cfg := validCfg()
		cfg.AudioSourceMode = "both"
		require.EqualError(t, cfg.IsValid(), "AudioSourceMode value is not valid")
	})

	t.Run("empty languages", func(t *testing.T) {
		cfg := validCfg()
		cfg.SourceLanguage = ""
		require.EqualError(t, cfg.IsValid(), "SourceLanguage cannot be empty")

		cfg = validCfg()
		cfg.TargetLanguage = ""
		require.EqualError(t, cfg.IsValid(), "TargetLanguage cannot be empty")
	})

	t.Run("invalid MicRMSThreshold", func(t *testing.T) {
		cfg := validCfg()
		cfg.MicRMSThreshold = 1.5
		require.EqualError(t, cfg.IsValid(), "MicRMSThreshold should be in the range [0, 1)")

		cfg = validCfg()
		cfg.MicRMSThreshold = -0.1
		require.EqualError(t, cfg.IsValid(), "MicRMSThreshold should be in the range [0, 1)")
	})

	t.Run("invalid TranslationProvider", func(t *testing.T) {
		cfg := validCfg()
		cfg.TranslationEnabled = true
		cfg.TranslationProvider = "google"
		require.EqualError(t, cfg.IsValid(), "TranslationProvider value is not valid")
	})

	t.Run("translator endpoint must be https", func(t *testing.T) {
		cfg := validCfg()
		cfg.TranslationEnabled = true
		cfg.TranslatorEndpoint = "http://example.com"
		require.EqualError(t, cfg.IsValid(), `TranslatorEndpoint parsing failed: invalid scheme "http"`)

		cfg.TranslatorEndpoint = "https://example.cognitiveservices.azure.com"
		require.NoError(t, cfg.IsValid())
	})

	t.Run("translation disabled skips translator checks", func(t *testing.T) {
		cfg := validCfg()
		cfg.TranslationProvider = "google"
		require.NoError(t, cfg.IsValid())
	})
}

func TestConfigSetDefaults(t *testing.T) {
	var cfg SessionConfig
	cfg.SetDefaults()

	require.Equal(t, asr.ProviderDeepgram, cfg.ASRProvider)
	require.Equal(t, AudioSourceModeSystem, cfg.AudioSourceMode)
	require.Equal(t, TranslationProviderMicrosoft, cfg.TranslationProvider)
	require.Equal(t, "en", cfg.SourceLanguage)
	require.Equal(t, "cn", cfg.TargetLanguage)
	require.Equal(t, MicRMSThresholdDefault, cfg.MicRMSThreshold)
	require.Equal(t, HintModelDefault, cfg.HintModel)

	t.Run("existing values survive", func(t *testing.T) {
		cfg := SessionConfig{ASRProvider: asr.ProviderAliyun, SourceLanguage: "cn"}
		cfg.SetDefaults()
		require.Equal(t, asr.ProviderAliyun, cfg.ASRProvider)
		require.Equal(t, "cn", cfg.SourceLanguage)
		require.Equal(t, "cn", cfg.TargetLanguage)
	})
}

func TestConfigMapRoundTrip(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var cfg SessionConfig
		require.Nil(t, cfg.ToMap())
	})

	t.Run("round trip", func(t *testing.T) {
		cfg := SessionConfig{
			ASRProvider:         asr.ProviderAliyun,
			AudioSourceMode:     AudioSourceModeMixed,
			MicrophoneID:        "mic-1",
			MicRMSThreshold:     0.02,
			SourceLanguage:      "en",
			TargetLanguage:      "cn",
			TranslationEnabled:  true,
			TranslationProvider: TranslationProviderAliyun,
			HintEnabled:         true,
			HintModel:           "gpt-4o-mini",
		}

		var decoded SessionConfig
		decoded.FromMap(cfg.ToMap())
		require.Equal(t, cfg, decoded)
	})

	t.Run("integer threshold", func(t *testing.T) {
		var cfg SessionConfig
		cfg.FromMap(map[string]any{"mic_rms_threshold": 0})
		require.Zero(t, cfg.MicRMSThreshold)
	})
}

func TestFromEnv(t *testing.T) {
	t.Setenv("ASR_PROVIDER", "aliyun")
	t.Setenv("AUDIO_SOURCE_MODE", "mixed")
	t.Setenv("MICROPHONE_ID", "mic-2")
	t.Setenv("MIC_RMS_THRESHOLD", "0.03")
	t.Setenv("SOURCE_LANGUAGE", "cn")
	t.Setenv("TARGET_LANGUAGE", "en")
	t.Setenv("TRANSLATION_ENABLED", "true")
	t.Setenv("TRANSLATION_PROVIDER", "aliyun")
	t.Setenv("HINT_ENABLED", "true")
	t.Setenv("DEEPGRAM_API_KEY", "dg")
	t.Setenv("ALIYUN_ACCESS_KEY_ID", "id")
	t.Setenv("ALIYUN_ACCESS_KEY_SECRET", "secret")
	t.Setenv("ALIYUN_APP_KEY", "app")
	t.Setenv("TRANSLATOR_API_KEY", "tr")
	t.Setenv("TRANSLATOR_REGION", "westus")
	t.Setenv("HINT_API_KEY", "hk")

	cfg, secrets, err := FromEnv()
	require.NoError(t, err)

	require.Equal(t, asr.ProviderAliyun, cfg.ASRProvider)
	require.Equal(t, AudioSourceModeMixed, cfg.AudioSourceMode)
	require.Equal(t, "mic-2", cfg.MicrophoneID)
	require.Equal(t, 0.03, cfg.MicRMSThreshold)
	require.Equal(t, "cn", cfg.SourceLanguage)
	require.Equal(t, "en", cfg.TargetLanguage)
	require.True(t, cfg.TranslationEnabled)
	require.Equal(t, TranslationProviderAliyun, cfg.TranslationProvider)
	require.True(t, cfg.HintEnabled)

	require.Equal(t, "dg", secrets.DeepgramAPIKey)
	require.Equal(t, "id", secrets.AliyunAccessKeyID)
	require.Equal(t, "secret", secrets.AliyunAccessKeySecret)
	require.Equal(t, "app", secrets.AliyunAppKey)
	require.Equal(t, "tr", secrets.TranslatorAPIKey)
	require.Equal(t, "westus", secrets.TranslatorRegion)
	require.Equal(t, "hk", secrets.HintAPIKey)
}

func TestSecretsPresence(t *testing.T) {
	s := Secrets{DeepgramAPIKey: "dg", AliyunAccessKeyID: "id"}

	presence := s.Presence()
	require.Equal(t, map[string]bool{
		"deepgram_api_key":         true,
		"aliyun_access_key_id":     true,
		"aliyun_access_key_secret": false,
		"aliyun_app_key":           false,
		"translator_api_key":       false,
		"hint_api_key":             false,
	}, presence)

	t.Run("never exposes values", func(t *testing.T) {
		for key := range presence {
			require.NotContains(t, key, "dg")
		}
	})

	t.Run("HasAliyun needs the full triple", func(t *testing.T) {
		require.False(t, s.HasAliyun())
		s.AliyunAccessKeySecret = "secret"
		s.AliyunAppKey = "app"
		require.True(t, s.HasAliyun())
	})
}

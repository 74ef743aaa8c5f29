package tingwu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeLanguage(t *testing.T) {
	for _, tc := range []struct {
		input    string
		expected string
	}{
		{"cn", "cn"},
		{"Chinese", "cn"},
		{"zh-CN", "cn"},
		{"中文", "cn"},
		{"EN-us", "en"},
		{"英语", "en"},
		{"Cantonese", "yue"},
		{"jp", "ja"},
		{"KR", "ko"},
		{"auto", "multilingual"},
		{" en ", "en"},
		{"klingon", "klingon"},
	} {
		t.Run(tc.input, func(t *testing.T) {
			require.Equal(t, tc.expected, NormalizeLanguage(tc.input))
		})
	}
}

func TestValidateSourceLanguage(t *testing.T) {
	t.Run("supported", func(t *testing.T) {
		for _, code := range []string{"cn", "en", "yue", "ja", "ko", "multilingual"} {
			normalized, err := ValidateSourceLanguage(code)
			require.NoError(t, err)
			require.Equal(t, code, normalized)
		}
	})

	t.Run("alias resolves before validation", func(t *testing.T) {
		normalized, err := ValidateSourceLanguage("Mandarin")
		require.NoError(t, err)
		require.Equal(t, "cn", normalized)
	})

	t.Run("target-only code rejected", func(t *testing.T) {
		_, err := ValidateSourceLanguage("de")
		require.EqualError(t, err, `source language "de" is not supported`)
	})
}

func TestValidateTargetLanguage(t *testing.T) {
	t.Run("supported", func(t *testing.T) {
		for _, code := range []string{"cn", "en", "ja", "ko", "de", "fr", "ru"} {
			normalized, err := ValidateTargetLanguage(code)
			require.NoError(t, err)
			require.Equal(t, code, normalized)
		}
	})

	t.Run("source-only code rejected", func(t *testing.T) {
		_, err := ValidateTargetLanguage("multilingual")
		require.EqualError(t, err, `target language "multilingual" is not supported`)
	})
}

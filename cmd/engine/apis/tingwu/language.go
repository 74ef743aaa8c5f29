package tingwu

import (
	"fmt"
	"strings"
)

// The realtime transcription service only accepts these codes. Anything else
// is rejected before a task is created.
var (
	sourceLanguages = map[string]bool{
		"cn":           true,
		"en":           true,
		"yue":          true,
		"ja":           true,
		"ko":           true,
		"multilingual": true,
	}

	targetLanguages = map[string]bool{
		"cn": true,
		"en": true,
		"ja": true,
		"ko": true,
		"de": true,
		"fr": true,
		"ru": true,
	}

	languageAliases = map[string]string{
		"chinese":     "cn",
		"mandarin":    "cn",
		"zh":          "cn",
		"zh-cn":       "cn",
		"zh-hans":     "cn",
		"中文":          "cn",
		"汉语":          "cn",
		"english":     "en",
		"en-us":       "en",
		"en-gb":       "en",
		"英文":          "en",
		"英语":          "en",
		"cantonese":   "yue",
		"zh-yue":      "yue",
		"粤语":          "yue",
		"japanese":    "ja",
		"jp":          "ja",
		"日语":          "ja",
		"korean":      "ko",
		"kr":          "ko",
		"韩语":          "ko",
		"german":      "de",
		"德语":          "de",
		"french":      "fr",
		"法语":          "fr",
		"russian":     "ru",
		"俄语":          "ru",
		"auto":        "multilingual",
		"multi":       "multilingual",
		"multilingal": "multilingual",
	}
)

// NormalizeLanguage maps common language names and tags onto the service's
// short codes. Unrecognized input passes through lowercased and trimmed so
// validation can report it.
func NormalizeLanguage(code string) string {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if mapped, ok := languageAliases[normalized]; ok {
		return mapped
	}
	return normalized
}

// ValidateSourceLanguage normalizes and checks a transcription source
// language against the service allow-list.
func ValidateSourceLanguage(code string) (string, error) {
	normalized := NormalizeLanguage(code)
	if !sourceLanguages[normalized] {
		return "", fmt.Errorf("source language %q is not supported", normalized)
	}
	return normalized, nil
}

// ValidateTargetLanguage normalizes and checks a translation target language
// against the service allow-list.
func ValidateTargetLanguage(code string) (string, error) {
	normalized := NormalizeLanguage(code)
	if !targetLanguages[normalized] {
		return "", fmt.Errorf("target language %q is not supported", normalized)
	}
	return normalized, nil
}

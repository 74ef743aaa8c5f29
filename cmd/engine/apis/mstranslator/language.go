package mstranslator

import "strings"

// The translator API uses BCP-47-ish tags; the rest of the pipeline uses
// short codes and users type whatever they want. This maps both onto the
// provider's expected tags.
var languageTags = map[string]string{
	"cn":                  "zh-Hans",
	"zh":                  "zh-Hans",
	"zh-cn":               "zh-Hans",
	"zh-hans":             "zh-Hans",
	"chinese":             "zh-Hans",
	"simplified chinese":  "zh-Hans",
	"中文":                  "zh-Hans",
	"汉语":                  "zh-Hans",
	"zh-tw":               "zh-Hant",
	"zh-hant":             "zh-Hant",
	"traditional chinese": "zh-Hant",
	"繁体中文":                "zh-Hant",
	"yue":                 "yue",
	"cantonese":           "yue",
	"粤语":                  "yue",
	"en":                  "en",
	"en-us":               "en",
	"en-gb":               "en",
	"english":             "en",
	"英文":                  "en",
	"英语":                  "en",
	"ja":                  "ja",
	"jp":                  "ja",
	"japanese":            "ja",
	"日语":                  "ja",
	"ko":                  "ko",
	"kr":                  "ko",
	"korean":              "ko",
	"韩语":                  "ko",
	"de":                  "de",
	"german":              "de",
	"德语":                  "de",
	"fr":                  "fr",
	"french":              "fr",
	"法语":                  "fr",
	"ru":                  "ru",
	"russian":             "ru",
	"俄语":                  "ru",
}

// NormalizeLanguage maps a user-supplied language name or code onto a
// provider tag. Unrecognized input passes through trimmed so the service
// can reject it with its own diagnostics.
func NormalizeLanguage(code string) string {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if tag, ok := languageTags[normalized]; ok {
		return tag
	}
	return strings.TrimSpace(code)
}

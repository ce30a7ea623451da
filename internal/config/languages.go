package config

import "strings"

// nativeLanguageNames maps a language tag to the language's own name. The
// shortcut instructions use the native name so the model answers in the
// requested language instead of describing it in English.
var nativeLanguageNames = map[string]string{
	"ar":    "العربية",
	"de":    "Deutsch",
	"en":    "English",
	"es":    "Español",
	"fr":    "Français",
	"it":    "Italiano",
	"ja":    "日本語",
	"ko":    "한국어",
	"nl":    "Nederlands",
	"pl":    "Polski",
	"pt":    "Português",
	"ru":    "Русский",
	"tr":    "Türkçe",
	"vi":    "Tiếng Việt",
	"zh-CN": "简体中文",
	"zh-TW": "繁體中文",
}

// NativeLanguageName resolves a language tag to its native name. Unknown tags
// fall back to the tag itself so the instruction still carries something
// meaningful.
func NativeLanguageName(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		tag = DefaultTargetLanguage
	}
	if name, ok := nativeLanguageNames[tag]; ok {
		return name
	}
	// Try the primary subtag ("pt-BR" -> "pt").
	if idx := strings.IndexByte(tag, '-'); idx > 0 {
		if name, ok := nativeLanguageNames[tag[:idx]]; ok {
			return name
		}
	}
	return tag
}

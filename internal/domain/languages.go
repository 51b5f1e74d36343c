package domain

import (
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// LanguageOption is one selectable source language.
type LanguageOption struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// whisperLanguages lists the languages supported by multilingual Whisper checkpoints.
var whisperLanguages = map[string]string{
	"en": "english", "zh": "chinese", "de": "german", "es": "spanish/castilian",
	"ru": "russian", "ko": "korean", "fr": "french", "ja": "japanese",
	"pt": "portuguese", "tr": "turkish", "pl": "polish", "ca": "catalan/valencian",
	"nl": "dutch/flemish", "ar": "arabic", "sv": "swedish", "it": "italian",
	"id": "indonesian", "hi": "hindi", "fi": "finnish", "vi": "vietnamese",
	"he": "hebrew", "uk": "ukrainian", "el": "greek", "ms": "malay",
	"cs": "czech", "ro": "romanian/moldavian/moldovan", "da": "danish", "hu": "hungarian",
	"ta": "tamil", "no": "norwegian", "th": "thai", "ur": "urdu",
	"hr": "croatian", "bg": "bulgarian", "lt": "lithuanian", "la": "latin",
	"mi": "maori", "ml": "malayalam", "cy": "welsh", "sk": "slovak",
	"te": "telugu", "fa": "persian", "lv": "latvian", "bn": "bengali",
	"sr": "serbian", "az": "azerbaijani", "sl": "slovenian", "kn": "kannada",
	"et": "estonian", "mk": "macedonian", "br": "breton", "eu": "basque",
	"is": "icelandic", "hy": "armenian", "ne": "nepali", "mn": "mongolian",
	"bs": "bosnian", "kk": "kazakh", "sq": "albanian", "sw": "swahili",
	"gl": "galician", "mr": "marathi", "pa": "punjabi/panjabi", "si": "sinhala/sinhalese",
	"km": "khmer", "sn": "shona", "yo": "yoruba", "so": "somali",
	"af": "afrikaans", "oc": "occitan", "ka": "georgian", "be": "belarusian",
	"tg": "tajik", "sd": "sindhi", "gu": "gujarati", "am": "amharic",
	"yi": "yiddish", "lo": "lao", "uz": "uzbek", "fo": "faroese",
	"ht": "haitian creole/haitian", "ps": "pashto/pushto", "tk": "turkmen", "nn": "nynorsk",
	"mt": "maltese", "sa": "sanskrit", "lb": "luxembourgish/letzeburgesch", "my": "myanmar/burmese",
	"bo": "tibetan", "tl": "tagalog", "mg": "malagasy", "as": "assamese",
	"tt": "tatar", "haw": "hawaiian", "ln": "lingala", "ha": "hausa",
	"ba": "bashkir", "jw": "javanese", "su": "sundanese",
}

// Languages returns the supported languages sorted by display name.
func Languages() []LanguageOption {
	caser := cases.Title(language.English)
	out := make([]LanguageOption, 0, len(whisperLanguages))
	for code, name := range whisperLanguages {
		out = append(out, LanguageOption{Code: code, Name: caser.String(name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsKnownLanguage reports whether code is the auto sentinel or a supported language code.
func IsKnownLanguage(code string) bool {
	if code == LanguageAuto {
		return true
	}
	_, ok := whisperLanguages[code]
	return ok
}

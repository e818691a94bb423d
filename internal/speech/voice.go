package speech

import "strings"

// VoicePreference steers voice selection.
type VoicePreference struct {
	// Locale is a language prefix such as "en" or "en-AU". Empty matches every voice.
	Locale string
	// Name pins a specific voice when it is available in the locale.
	Name string
}

// nameHints are tried in order after an explicit female gender tag.
var nameHints = []string{"female", "natural", "woman", "girl"}

// SelectVoice picks the first voice matching the preference cascade:
// pinned name, locale + female gender, locale + feminine-sounding name, then any locale match.
func SelectVoice(voices []Voice, pref VoicePreference) (Voice, bool) {
	inLocale := make([]Voice, 0, len(voices))
	for _, v := range voices {
		if localeMatches(v.Locale, pref.Locale) {
			inLocale = append(inLocale, v)
		}
	}
	if len(inLocale) == 0 {
		return Voice{}, false
	}

	if pref.Name != "" {
		for _, v := range inLocale {
			if strings.EqualFold(v.Name, pref.Name) {
				return v, true
			}
		}
	}
	for _, v := range inLocale {
		if strings.EqualFold(v.Gender, "female") {
			return v, true
		}
	}
	for _, hint := range nameHints {
		for _, v := range inLocale {
			if strings.Contains(strings.ToLower(v.Name), hint) {
				return v, true
			}
		}
	}
	return inLocale[0], true
}

func localeMatches(voiceLocale, want string) bool {
	if want == "" {
		return true
	}
	return strings.HasPrefix(strings.ToLower(voiceLocale), strings.ToLower(want))
}

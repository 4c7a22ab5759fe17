package play

import (
	"golang.org/x/text/language"

	"github.com/fbonesso/storeops/internal/apierr"
)

// Google Play names a few locales differently from the BCP 47 short forms
// used on the command line.
var toPlay = map[string]string{
	"pl":    "pl-PL",
	"sv":    "sv-SE",
	"es-MX": "es-419",
}

var fromPlay = func() map[string]string {
	m := make(map[string]string, len(toPlay))
	for k, v := range toPlay {
		m[v] = k
	}

	return m
}()

// ToPlayLocale canonicalizes a user-supplied locale ("en-us" → "en-US") and
// maps it to the Google Play spelling.
func ToPlayLocale(locale string) (string, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return "", apierr.Wrap(apierr.KindUsage, err, "invalid locale %q", locale)
	}

	s := tag.String()
	if alias, ok := toPlay[s]; ok {
		return alias, nil
	}

	return s, nil
}

// FromPlayLocale maps a Google Play locale back to the command-line form.
// Unparseable values are returned unchanged.
func FromPlayLocale(locale string) string {
	if alias, ok := fromPlay[locale]; ok {
		return alias
	}

	tag, err := language.Parse(locale)
	if err != nil {
		return locale
	}

	if alias, ok := fromPlay[tag.String()]; ok {
		return alias
	}

	return tag.String()
}

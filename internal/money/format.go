package money

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var displayLocales = []language.Tag{
	language.AmericanEnglish,
	language.BritishEnglish,
	language.German,
	language.French,
	language.Afrikaans,
	language.Spanish,
}

var localeMatcher = language.NewMatcher(displayLocales)

// MatchLocale picks a display locale from an Accept-Language header value.
// It falls back to American English.
func MatchLocale(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return displayLocales[0]
	}
	_, idx, _ := localeMatcher.Match(tags...)
	return displayLocales[idx]
}

// Format renders minor units for display in the given locale, prefixed with
// the ISO code. The result is for humans only and never parsed back.
func Format(minor int64, cur Currency, tag language.Tag) string {
	p := message.NewPrinter(tag)
	value := float64(minor) / math.Pow10(int(cur.Exponent))
	return p.Sprintf("%s %v", cur.Code, number.Decimal(value, number.Scale(int(cur.Exponent))))
}

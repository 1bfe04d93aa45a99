// Package locale provides locale-aware short-date parsing and the
// day-count serial date conversion used when normalizing source cells.
package locale

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// ISODate is the canonical date format stored in the cache.
const ISODate = "2006-01-02"

// SentinelDate is stored when a date cell cannot be parsed at all.
const SentinelDate = "1980-01-01"

// Serial date bounds. Serials outside this range are not treated as
// dates; 2958465 is 9999-12-31 on the 1899-12-30 epoch.
const (
	MinSerial = -20000
	MaxSerial = 2958465
)

// serialEpoch is the spreadsheet serial day zero (Lotus/Sheets epoch).
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// Locales are the supported locale tags, tried in order when the
// active locale fails to parse a date string.
var Locales = []string{
	"en_GB",
	"de_DE",
	"es_ES",
	"hu_HU",
	"ar_SA",
	"da_DK",
	"en_AU",
	"en_CA",
	"en_IN",
	"en_US",
	"en_ZA",
	"es_MX",
	"fi_FI",
	"fr_BE",
	"fr_FR",
	"id_ID",
	"it_IT",
	"ja_JP",
	"ko_KR",
	"nb_NO",
	"nl_NL",
	"pt_BR",
	"ru_RU",
	"sv_SE",
	"tr_TR",
	"zh_CN",
}

// layouts maps a locale tag to its short date layout.
var layouts = map[string]string{
	"en_GB": "2/1/2006",
	"de_DE": "2.1.2006",
	"es_ES": "2/1/2006",
	"hu_HU": "2006. 01. 02.",
	"ar_SA": "2/1/2006",
	"da_DK": "2.1.2006",
	"en_AU": "2/1/2006",
	"en_CA": "2006-01-02",
	"en_IN": "2/1/2006",
	"en_US": "1/2/2006",
	"en_ZA": "2006/01/02",
	"es_MX": "2/1/2006",
	"fi_FI": "2.1.2006",
	"fr_BE": "2/1/2006",
	"fr_FR": "2/1/2006",
	"id_ID": "2/1/2006",
	"it_IT": "2/1/2006",
	"ja_JP": "2006/01/02",
	"ko_KR": "2006. 1. 2.",
	"nb_NO": "2.1.2006",
	"nl_NL": "2-1-2006",
	"pt_BR": "2/1/2006",
	"ru_RU": "2.1.2006",
	"sv_SE": "2006-01-02",
	"tr_TR": "2.1.2006",
	"zh_CN": "2006/1/2",
}

const defaultLayout = "2/1/2006"

// Normalize canonicalizes a locale tag ("en-gb", "en_GB") to the
// underscore form used by the layout table. Unknown tags return "".
func Normalize(tag string) string {
	t, err := language.Parse(strings.ReplaceAll(tag, "_", "-"))
	if err != nil {
		return ""
	}
	canon := strings.ReplaceAll(t.String(), "-", "_")
	if _, ok := layouts[canon]; ok {
		return canon
	}
	return ""
}

// Layout returns the short date layout for a locale tag.
func Layout(tag string) string {
	if l, ok := layouts[Normalize(tag)]; ok {
		return l
	}
	return defaultLayout
}

// SerialToISO converts a spreadsheet day-count serial to an ISO
// YYYY-MM-DD string. Serials outside the valid range are rejected.
func SerialToISO(serial float64) (string, error) {
	days := int(math.Trunc(serial))
	if days < MinSerial || days > MaxSerial {
		return "", fmt.Errorf("serial date %v out of range", serial)
	}
	return serialEpoch.AddDate(0, 0, days).Format(ISODate), nil
}

// ParseDate parses a date string against one locale's short format.
func ParseDate(s, tag string) (time.Time, error) {
	return time.Parse(Layout(tag), strings.TrimSpace(s))
}

// ParseAny parses a date string against the active locale first, then
// every other supported locale in order.
func ParseAny(s, active string) (time.Time, error) {
	if t, err := ParseDate(s, active); err == nil {
		return t, nil
	}
	canon := Normalize(active)
	for _, tag := range Locales {
		if tag == canon {
			continue
		}
		if t, err := time.Parse(layouts[tag], strings.TrimSpace(s)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no supported locale parses date %q", s)
}

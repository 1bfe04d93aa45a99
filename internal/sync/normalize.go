package sync

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/ledgercache/internal/locale"
	"github.com/mesh-intelligence/ledgercache/pkg/types"
)

// idAliases are the header names recognized, case-insensitively, as an
// id-like column usable as the sole stable key.
var idAliases = map[string]bool{
	"id":     true,
	"#":      true,
	"number": true,
	"num":    true,
}

// Separators for composite key encoding: fields joined by the record
// separator, tuple values by the unit separator. Neither occurs in
// normalized values.
const (
	fieldSep = "\x1e"
	tupleSep = "\x1f"
)

// columnLetters converts a zero-based column index to spreadsheet
// letters: 0 -> A, 25 -> Z, 26 -> AA.
func columnLetters(idx int) string {
	letters := ""
	for idx >= 0 {
		letters = string(rune('A'+idx%26)) + letters
		idx = idx/26 - 1
	}
	return letters
}

// dataRange builds the A1 range covering one column's data rows.
func dataRange(worksheet, col string, lastRow int) string {
	return fmt.Sprintf("%s!%s2:%s%d", worksheet, col, col, lastRow)
}

// cellRange builds the A1 reference of a single cell.
func cellRange(worksheet, col string, row int) string {
	return fmt.Sprintf("%s!%s%d", worksheet, col, row)
}

// idAliasColumn returns the first column whose name is an id alias.
func idAliasColumn(cols []string) (string, bool) {
	for _, c := range cols {
		if idAliases[strings.ToLower(strings.TrimSpace(c))] {
			return c, true
		}
	}
	return "", false
}

// normalizeKeyValue renders one stable-key value into its canonical
// string form so locally captured snapshots and freshly fetched remote
// cells compare equal: dates as ISO YYYY-MM-DD, amounts rounded to two
// decimals, ids as integers where possible, text trimmed. Nil and
// empty values normalize to "".
func normalizeKeyValue(field string, v any, activeLocale string) string {
	if v == nil {
		return ""
	}
	switch field {
	case types.RoleDate:
		return normalizeDate(v, activeLocale)
	case types.RoleAmount:
		return normalizeAmount(v)
	case types.RoleID:
		return normalizeID(v)
	}
	return strings.TrimSpace(stringify(v))
}

func normalizeDate(v any, activeLocale string) string {
	switch x := v.(type) {
	case float64:
		if iso, err := locale.SerialToISO(x); err == nil {
			return iso
		}
		return strings.TrimSpace(stringify(v))
	case int:
		return normalizeDate(float64(x), activeLocale)
	case int64:
		return normalizeDate(float64(x), activeLocale)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return ""
		}
		if serial, err := strconv.ParseFloat(s, 64); err == nil {
			if iso, err := locale.SerialToISO(serial); err == nil {
				return iso
			}
		}
		if t, err := locale.ParseAny(s, activeLocale); err == nil {
			return t.Format(locale.ISODate)
		}
		return s
	}
	return strings.TrimSpace(stringify(v))
}

func normalizeAmount(v any) string {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return ""
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return s
		}
		f = parsed
	default:
		return strings.TrimSpace(stringify(v))
	}
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', 2, 64)
}

func normalizeID(v any) string {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case string:
		s := strings.TrimSpace(x)
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
			return strconv.FormatInt(int64(f), 10)
		}
		return s
	}
	return strings.TrimSpace(stringify(v))
}

func stringify(v any) string {
	return fmt.Sprintf("%v", v)
}

// keyString encodes one composite stable key: per-field tuples joined
// field by field. ok is false when every value in every field is empty,
// which disqualifies the key as a match target.
func keyString(tuples [][]string) (key string, ok bool) {
	fields := make([]string, len(tuples))
	for i, tuple := range tuples {
		fields[i] = strings.Join(tuple, tupleSep)
		for _, v := range tuple {
			if v != "" {
				ok = true
			}
		}
	}
	return strings.Join(fields, fieldSep), ok
}

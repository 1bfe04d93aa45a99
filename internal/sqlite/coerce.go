package sqlite

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/ledgercache/internal/locale"
	"github.com/mesh-intelligence/ledgercache/pkg/types"
)

// Cast coerces a raw source cell to the column's declared type. Nil
// passes through. Parse failures default to the type's zero value
// (dates fall back to the sentinel date); only an unknown column is an
// error, so data is never silently dropped.
func Cast(cfg types.Config, column string, v any) (any, error) {
	ct, err := cfg.ColumnType(column)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}

	switch ct {
	case types.ColumnInt:
		return castInt(v), nil
	case types.ColumnFloat:
		return castFloat(v), nil
	case types.ColumnDate:
		return castDate(cfg.Locale, v), nil
	case types.ColumnString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return stringify(v), nil
	}
	return nil, fmt.Errorf("%w: column %q has unknown type %q", types.ErrHeadersInvalid, column, ct)
}

func castInt(v any) int64 {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case int:
		return int64(x)
	case int64:
		return x
	case float64:
		return int64(math.Trunc(x))
	case string:
		if x == "" {
			return 0
		}
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n
		}
		return 0
	}
	if n, err := strconv.ParseInt(stringify(v), 10, 64); err == nil {
		return n
	}
	return 0
}

func castFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case string:
		if x == "" {
			return 0.0
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f
		}
		return 0.0
	}
	if f, err := strconv.ParseFloat(stringify(v), 64); err == nil {
		return f
	}
	return 0.0
}

// castDate converts numeric cells as day-count serials and strings
// through the serial-then-locale fallback chain, ending at the
// sentinel date when nothing parses.
func castDate(active string, v any) any {
	switch x := v.(type) {
	case float64:
		iso, err := locale.SerialToISO(x)
		if err != nil {
			return nil
		}
		return iso
	case int:
		return castDate(active, float64(x))
	case int64:
		return castDate(active, float64(x))
	case string:
		if serial, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			if iso, err := locale.SerialToISO(serial); err == nil {
				return iso
			}
		}
		if t, err := locale.ParseAny(x, active); err == nil {
			return t.Format(locale.ISODate)
		}
		return locale.SentinelDate
	}
	return locale.SentinelDate
}

func stringify(v any) string {
	return fmt.Sprintf("%v", v)
}

package datasource

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RowString reads a column as a trimmed string. NULL reads as "".
func RowString(row map[string]any, col string) string {
	switch v := lookup(row, col).(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// RowBool reads a column as a boolean. Engines disagree on how they return
// flags, so Y/N, YES/NO, 1/0 and true/false are all accepted.
func RowBool(row map[string]any, col string) bool {
	switch v := lookup(row, col).(type) {
	case nil:
		return false
	case bool:
		return v
	case int64:
		return v != 0
	case int32:
		return v != 0
	case int:
		return v != 0
	case float64:
		return v != 0
	default:
		switch strings.ToUpper(RowString(row, col)) {
		case "Y", "YES", "TRUE", "T", "1":
			return true
		}
		return false
	}
}

// RowInt reads a column as an integer. Unparseable values read as 0.
func RowInt(row map[string]any, col string) int64 {
	switch v := lookup(row, col).(type) {
	case nil:
		return 0
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		n, _ := strconv.ParseInt(RowString(row, col), 10, 64)
		return n
	}
}

// RowStringList reads an array column ([]any or []string from pgx) or a
// comma separated string.
func RowStringList(row map[string]any, col string) []string {
	switch v := lookup(row, col).(type) {
	case nil:
		return nil
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	default:
		s := RowString(row, col)
		if s == "" {
			return nil
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
}

// lookup matches column names case-insensitively; Oracle upper-cases them.
func lookup(row map[string]any, col string) any {
	if v, ok := row[col]; ok {
		return v
	}
	for k, v := range row {
		if strings.EqualFold(k, col) {
			return v
		}
	}
	return nil
}

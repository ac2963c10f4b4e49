package ingest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"catalogsync/internal/repository"
)

const (
	ColIdentifier  = "identifier"
	ColName        = "name"
	ColDescription = "description"
	ColActive      = "active"

	MaxIdentifierLen = 100
	MaxNameLen       = 255

	maxRawValueLen = 256
)

var (
	ErrMissingColumns = errors.New("missing required columns")
	ErrNoHeader       = errors.New("file has no header row")
)

var requiredColumns = []string{ColIdentifier, ColName}

// RowError describes one rejected data row. Row numbers count the header
// as row 1.
type RowError struct {
	Row     int               `json:"row"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// Header maps normalized column names to record positions.
type Header struct {
	columns []string
	index   map[string]int
}

// ParseHeader trims and lower-cases column names and checks that every
// required column is present.
func ParseHeader(record []string) (Header, error) {
	h := Header{
		columns: make([]string, len(record)),
		index:   make(map[string]int, len(record)),
	}
	for i, col := range record {
		if i == 0 {
			col = strings.TrimPrefix(col, "\ufeff")
		}
		name := strings.ToLower(strings.TrimSpace(col))
		h.columns[i] = name
		if _, dup := h.index[name]; !dup && name != "" {
			h.index[name] = i
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := h.index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Header{}, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return h, nil
}

func (h Header) Has(col string) bool {
	_, ok := h.index[col]
	return ok
}

// Values returns the record keyed by column name. Short records yield
// empty values for the missing trailing columns.
func (h Header) Values(record []string) map[string]string {
	out := make(map[string]string, len(h.index))
	for name, i := range h.index {
		if i < len(record) {
			out[name] = record[i]
		} else {
			out[name] = ""
		}
	}
	return out
}

var boolTokens = map[string]bool{
	"true": true, "1": true, "yes": true, "y": true, "on": true, "active": true,
	"false": false, "0": false, "no": false, "n": false, "off": false, "inactive": false,
}

// ParseBool recognizes boolean-like tokens case-insensitively.
func ParseBool(s string) (value bool, ok bool) {
	value, ok = boolTokens[strings.ToLower(strings.TrimSpace(s))]
	return value, ok
}

// ValidateRow normalizes one data row into a product or explains why the
// row is rejected.
func ValidateRow(row int, values map[string]string) (repository.ProductInput, *RowError) {
	fail := func(msg string) (repository.ProductInput, *RowError) {
		return repository.ProductInput{}, &RowError{Row: row, Message: msg, Data: rawData(values)}
	}

	identifier := strings.TrimSpace(values[ColIdentifier])
	switch {
	case identifier == "":
		return fail("identifier is required")
	case utf8.RuneCountInString(identifier) > MaxIdentifierLen:
		return fail(fmt.Sprintf("identifier exceeds %d characters", MaxIdentifierLen))
	}

	name := strings.TrimSpace(values[ColName])
	switch {
	case name == "":
		return fail("name is required")
	case utf8.RuneCountInString(name) > MaxNameLen:
		return fail(fmt.Sprintf("name exceeds %d characters", MaxNameLen))
	}

	active := true
	if raw := strings.TrimSpace(values[ColActive]); raw != "" {
		v, ok := ParseBool(raw)
		if !ok {
			return fail(fmt.Sprintf("active has unrecognized value %q", raw))
		}
		active = v
	}

	var description *string
	if d := strings.TrimSpace(values[ColDescription]); d != "" {
		description = &d
	}

	return repository.ProductInput{
		Identifier:  identifier,
		Name:        name,
		Description: description,
		Active:      active,
	}, nil
}

func rawData(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > maxRawValueLen {
			v = truncateUTF8(v, maxRawValueLen)
		}
		out[k] = v
	}
	return out
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Package decoder turns raw report payloads into ordered untyped records.
// It handles tab-separated text, JSON record arrays, and gzip wrapping of
// either, preferring the declared content type and falling back to signature
// sniffing. Malformed rows are skipped and counted, never fatal.
package decoder

import (
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/logger"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
)

var ErrUnsupportedFormat = errors.New("unsupported report format")

// Result carries the decoded rows plus the count of rows that had to be
// skipped (wrong column count, undecodable bytes, non-object JSON elements).
type Result struct {
	Records       []models.UntypedRecord
	MalformedRows int
}

// Decode parses a full report payload starting at byte 0. declaredFormat is
// the content type the platform advertised and may be empty.
func Decode(data []byte, declaredFormat string) (*Result, error) {
	if len(data) == 0 {
		return &Result{}, nil
	}

	if isGzip(data, declaredFormat) {
		inner, err := gunzip(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress report payload: %w", err)
		}
		// The wrapper never nests; the inner payload is sniffed.
		return sniffAndDecode(inner)
	}

	switch {
	case strings.Contains(declaredFormat, "json"):
		return decodeJSON(data)
	case strings.Contains(declaredFormat, "tab-separated") || strings.Contains(declaredFormat, "tsv"):
		return decodeTSV(data)
	}

	return sniffAndDecode(data)
}

func sniffAndDecode(data []byte) (*Result, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return decodeJSON(data)
	}
	firstLine := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		firstLine = data[:idx]
	}
	if bytes.IndexByte(firstLine, '\t') >= 0 {
		return decodeTSV(data)
	}
	return nil, ErrUnsupportedFormat
}

func isGzip(data []byte, declaredFormat string) bool {
	if strings.Contains(declaredFormat, "gzip") {
		return true
	}
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func decodeTSV(data []byte) (*Result, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read TSV header: %w", err)
	}
	columns := make([]string, len(header))
	for i, col := range header {
		columns[i] = strings.TrimSpace(col)
	}

	result := &Result{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.MalformedRows++
			continue
		}
		if len(row) != len(columns) || !rowDecodable(row) {
			result.MalformedRows++
			continue
		}
		values := make(map[string]string, len(columns))
		for i, col := range columns {
			values[col] = row[i]
		}
		result.Records = append(result.Records, models.UntypedRecord{Columns: columns, Values: values})
	}

	if result.MalformedRows > 0 {
		logger.L.Warn("Skipped malformed TSV rows", "count", result.MalformedRows)
	}
	return result, nil
}

func rowDecodable(row []string) bool {
	for _, field := range row {
		if !utf8.ValidString(field) {
			return false
		}
	}
	return true
}

func decodeJSON(data []byte) (*Result, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode JSON report payload: %w", err)
	}

	result := &Result{}
	for _, element := range raw {
		obj, ok := decodeJSONObject(element)
		if !ok {
			result.MalformedRows++
			continue
		}
		columns := make([]string, 0, len(obj))
		values := make(map[string]string, len(obj))
		for _, kv := range obj {
			columns = append(columns, kv.key)
			values[kv.key] = kv.value
		}
		result.Records = append(result.Records, models.UntypedRecord{Columns: columns, Values: values})
	}

	if result.MalformedRows > 0 {
		logger.L.Warn("Skipped malformed JSON elements", "count", result.MalformedRows)
	}
	return result, nil
}

type jsonField struct {
	key   string
	value string
}

// decodeJSONObject flattens one JSON object into string fields, preserving
// the key order of the source document.
func decodeJSONObject(raw json.RawMessage) ([]jsonField, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, false
	}

	var fields []jsonField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, false
		}
		valTok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		switch v := valTok.(type) {
		case string:
			fields = append(fields, jsonField{key, v})
		case json.Number:
			fields = append(fields, jsonField{key, v.String()})
		case bool:
			fields = append(fields, jsonField{key, fmt.Sprintf("%t", v)})
		case nil:
			fields = append(fields, jsonField{key, ""})
		default:
			// Nested arrays/objects have no place in a flat report row.
			return nil, false
		}
	}
	return fields, true
}

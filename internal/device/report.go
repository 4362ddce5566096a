package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrMissingProperties is returned when a report has no "properties" object
var ErrMissingProperties = errors.New(`response has no "properties" object`)

// Report is one parsed response of the ZenSDK local API.
//
// Example response (truncated):
//
//	{"timestamp":1718000000,"messageId":42,"sn":"HOA1B2C3","version":2,
//	 "product":"solarFlow800","properties":{"electricLevel":87,"outputHomePower":312}}
type Report struct {
	// Properties maps property names to scalar values (int64, float64, string or bool)
	Properties map[string]any

	// SerialNumber is the "sn" field, if present
	SerialNumber string

	// Product is the "product" field, if present
	Product string

	// Timestamp is the device-side report time, zero if absent
	Timestamp time.Time

	// MessageID is the "messageId" field, if present
	MessageID int64

	// Raw holds the full decoded body, including non-scalar fields
	Raw map[string]any
}

// PropertyNames returns the property names in sorted order
func (r *Report) PropertyNames() []string {
	names := make([]string, 0, len(r.Properties))
	for name := range r.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CleanJSONResponse extracts the first complete JSON object from data.
// Device firmware occasionally pads the body with bytes before or after the
// object; those are discarded.
func CleanJSONResponse(data []byte) ([]byte, error) {
	start := bytes.IndexByte(data, '{')
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(data); i++ {
		b := data[i]

		if escaped {
			escaped = false
			continue
		}
		if b == '\\' && inString {
			escaped = true
			continue
		}
		if b == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch b {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return data[start : i+1], nil
			}
		}
	}

	return nil, fmt.Errorf("unterminated JSON object in response")
}

// ParseReport decodes a response body into a Report
func ParseReport(body []byte) (*Report, error) {
	cleaned, err := CleanJSONResponse(body)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(cleaned))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	props, ok := raw["properties"].(map[string]any)
	if !ok {
		return nil, ErrMissingProperties
	}

	report := &Report{
		Properties: make(map[string]any, len(props)),
		Raw:        raw,
	}

	for name, value := range props {
		if scalar, ok := scalarValue(value); ok {
			report.Properties[name] = scalar
		}
	}

	if sn, ok := raw["sn"].(string); ok {
		report.SerialNumber = sn
	}
	if product, ok := raw["product"].(string); ok {
		report.Product = product
	}
	if ts, ok := raw["timestamp"].(json.Number); ok {
		if secs, err := ts.Int64(); err == nil && secs > 0 {
			report.Timestamp = time.Unix(secs, 0)
		}
	}
	if id, ok := raw["messageId"].(json.Number); ok {
		if n, err := id.Int64(); err == nil {
			report.MessageID = n
		}
	}

	return report, nil
}

// scalarValue converts a decoded JSON value into a property value.
// Objects, arrays and nulls are not scalars.
func scalarValue(v any) (any, bool) {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, true
		}
		f, err := val.Float64()
		if err != nil {
			return nil, false
		}
		return f, true
	case string, bool:
		return val, true
	default:
		return nil, false
	}
}

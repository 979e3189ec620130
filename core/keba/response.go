package keba

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Response is one datagram received from a charger. Report replies and
// broadcast frames are JSON objects; command acknowledgments are short plain
// text such as "TCH-OK :done". Decoding never fails: payloads that do not
// parse stay available through Raw with IsJSON false.
type Response struct {
	Raw    string
	IsJSON bool
	Fields map[string]any
}

// DecodeResponse parses a raw payload. A JSON parse is attempted only when
// the trimmed text is brace-delimited; numbers are kept as json.Number so
// integer milliamp fields survive exactly.
func DecodeResponse(raw string) Response {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		dec := json.NewDecoder(strings.NewReader(trimmed))
		dec.UseNumber()
		var fields map[string]any
		if err := dec.Decode(&fields); err == nil {
			return Response{Raw: raw, IsJSON: true, Fields: fields}
		}
	}
	return Response{Raw: raw}
}

// Get returns the named field from a JSON response.
func (r Response) Get(key string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[key]
	return v, ok
}

// ReportID extracts the numeric report identifier. The firmware encodes it as
// a JSON string in broadcast frames and as a number in some report replies,
// so both are accepted.
func (r Response) ReportID() (int, bool) {
	v, ok := r.Get("ID")
	if !ok {
		return 0, false
	}
	switch id := v.(type) {
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(id))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

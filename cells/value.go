package cells

import (
	"bytes"
	"encoding/json"

	"github.com/bytedance/sonic"

	"github.com/eladsnd/sunday/domain"
)

// ScalarValue reduces a stored cell value to the string automation rules
// compare against:
//
//	{"text": "Done", ...}  -> Done
//	"Done"                 -> Done
//	42, true, null         -> the JSON literal
//	anything else          -> compact JSON
func ScalarValue(raw []byte) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !sonic.Valid(raw) {
		return "", domain.Invalidf("cell value is not valid JSON")
	}
	switch raw[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := sonic.Unmarshal(raw, &obj); err != nil {
			return "", domain.Invalidf("cell value: %v", err)
		}
		if text, ok := obj["text"]; ok {
			var s string
			if err := sonic.Unmarshal(text, &s); err == nil {
				return s, nil
			}
		}
		return compact(raw)
	case '"':
		var s string
		if err := sonic.Unmarshal(raw, &s); err != nil {
			return "", domain.Invalidf("cell value: %v", err)
		}
		return s, nil
	case '[':
		return compact(raw)
	}
	return string(raw), nil
}

func compact(raw []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", domain.Invalidf("cell value: %v", err)
	}
	return buf.String(), nil
}

// isNull reports whether raw is missing or the JSON null literal.
func isNull(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

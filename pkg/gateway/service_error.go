package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type errorBody struct {
	Detail    json.RawMessage `json:"detail"`
	ErrorCode string          `json:"error_code"`
}

type validationItem struct {
	Loc []interface{} `json:"loc"`
	Msg string        `json:"msg"`
}

// parseServiceError extracts {detail, error_code} from a failed response. When
// the body carries no usable detail a "<status> <status text>" message is used.
func parseServiceError(status int, body []byte) (string, string) {
	fallback := strings.TrimSpace(fmt.Sprintf("%d %s", status, http.StatusText(status)))

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return fallback, ""
	}

	msg := detailMessage(eb.Detail)
	if msg == "" {
		msg = fallback
	}
	return msg, eb.ErrorCode
}

func detailMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	// request validation failures arrive as a list of {loc, msg}
	var items []validationItem
	if err := json.Unmarshal(raw, &items); err == nil {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg == "" {
				continue
			}
			if field := locField(it.Loc); field != "" {
				parts = append(parts, field+": "+it.Msg)
			} else {
				parts = append(parts, it.Msg)
			}
		}
		return strings.Join(parts, "; ")
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, k := range []string{"message", "detail", "error"} {
			if v, ok := obj[k].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}

func locField(loc []interface{}) string {
	parts := make([]string, 0, len(loc))
	for i, l := range loc {
		s := fmt.Sprint(l)
		if i == 0 && (s == "body" || s == "query" || s == "path") {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ".")
}

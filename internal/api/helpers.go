package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"unicode"
)

// apiError is the structured error returned inside the response envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorEnvelope wraps an apiError for the wire.
type errorEnvelope struct {
	Error apiError `json:"error"`
}

// dataEnvelope wraps a successful payload for the wire.
type dataEnvelope struct {
	Data any `json:"data"`
}

// Error codes returned by the traffic endpoint.
const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeInvalidAction  = "INVALID_ACTION"
	codeRuleNotFound   = "RULE_NOT_FOUND"
	codeDuplicateName  = "DUPLICATE_RULE_NAME"
	codeStoreError     = "STORE_ERROR"
	codeRateLimited    = "RATE_LIMITED"
)

// writeData sends a success envelope: {"data": ...}.
func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dataEnvelope{Data: data})
}

// writeAPIError sends an error envelope: {"error": {"code", "message"}}.
func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Error: apiError{Code: code, Message: message}})
}

// getClientIP extracts the client IP from the request.
// Respects X-Forwarded-For and X-Real-IP headers for proxy situations.
func getClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			ip := strings.TrimSpace(ips[0])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// payloadContainers are request keys whose nested object keys are also
// normalized. Free-form maps such as conditions keep their caller keys.
var payloadContainers = map[string]bool{
	"rule":      true,
	"updates":   true,
	"rule_data": true,
}

// normalizeParams rewrites camelCase keys to snake_case so handlers can
// decode with a single tag set. Clients send either convention. Besides the
// top level it descends into the rule/updates payloads and into each
// apply_changes entry.
func normalizeParams(raw json.RawMessage) json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return raw
	}

	normalized, err := json.Marshal(normalizeObject(m))
	if err != nil {
		return raw
	}
	return normalized
}

func normalizeObject(m map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		key := camelToSnake(k)
		switch {
		case payloadContainers[key]:
			out[key] = normalizeNested(v)
		case key == "changes":
			out[key] = normalizeEntries(v)
		default:
			out[key] = v
		}
	}
	return out
}

func normalizeNested(raw json.RawMessage) json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return raw
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[camelToSnake(k)] = v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return raw
	}
	return b
}

func normalizeEntries(raw json.RawMessage) json.RawMessage {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return raw
	}
	for i, e := range entries {
		entries[i] = normalizeObject(e)
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return raw
	}
	return b
}

// camelToSnake converts camelCase to snake_case. Keys already in snake_case
// pass through unchanged.
func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

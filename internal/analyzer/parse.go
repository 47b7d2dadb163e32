package analyzer

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxRawHUD caps the HUD line when the model ignored the JSON contract.
const maxRawHUD = 80

type modelReply struct {
	HUD    string `json:"hud"`
	Digest string `json:"digest"`
}

// ParseReply extracts the HUD line and digest from a model response.
// It first tries a strict JSON parse after unwrapping any fenced code block,
// then retries on the first brace-delimited substring, and finally falls back
// to treating the whole response as the digest.
func ParseReply(raw string) (hud, digest string, parsedOK bool) {
	text := stripFences(strings.TrimSpace(raw))

	var reply modelReply
	if err := json.UnmarshalFromString(text, &reply); err == nil && reply.HUD != "" {
		return reply.HUD, reply.Digest, true
	}

	if inner := firstJSONObject(text); inner != "" {
		if err := json.UnmarshalFromString(inner, &reply); err == nil && reply.HUD != "" {
			return reply.HUD, reply.Digest, true
		}
	}

	hud = strings.TrimSpace(raw)
	if len(hud) > maxRawHUD {
		hud = hud[:maxRawHUD]
	}
	return hud, strings.TrimSpace(raw), false
}

// stripFences unwraps a ```...``` block, tolerating a language tag after the
// opening fence.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		text = text[idx+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// firstJSONObject returns the first balanced {...} substring, or "".
func firstJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

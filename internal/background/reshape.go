package background

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CyberwizD/expo-push/internal/models"
)

// Reshape normalises a background task payload into the display record used
// for foreground notifications.
//
// The inner object is looked up at notification.data, then data, then the
// payload root. The title comes from the inner "title", the body from the
// inner "message" (or "body" when that is not encoded JSON) and the data from
// the first of "body", "data", "dataString" holding a JSON-encoded object, or
// from an inner "data" object as is.
func Reshape(payload map[string]interface{}) (models.Content, error) {
	if payload == nil {
		return models.Content{}, fmt.Errorf("%w: empty payload", models.ErrBackgroundTask)
	}

	inner := innerObject(payload)

	out := models.Content{
		Title: stringField(inner, "title"),
		Body:  stringField(inner, "message"),
	}

	for _, key := range []string{"body", "data", "dataString"} {
		raw, ok := inner[key].(string)
		if !ok {
			continue
		}
		if data, ok := decodeObject(raw); ok {
			out.Data = data
			break
		}
	}
	if out.Data == nil {
		if data, ok := inner["data"].(map[string]interface{}); ok {
			out.Data = data
		}
	}

	if out.Body == "" {
		if body, ok := inner["body"].(string); ok {
			if _, isJSON := decodeObject(body); !isJSON {
				out.Body = body
			}
		}
	}

	if out.Data == nil {
		out.Data = map[string]interface{}{}
	}
	return out, nil
}

func innerObject(payload map[string]interface{}) map[string]interface{} {
	if n, ok := payload["notification"].(map[string]interface{}); ok {
		if d, ok := n["data"].(map[string]interface{}); ok {
			return d
		}
	}
	if d, ok := payload["data"].(map[string]interface{}); ok {
		return d
	}
	return payload
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func decodeObject(raw string) (map[string]interface{}, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, false
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}
	return out, true
}

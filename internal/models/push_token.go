package models

import "strings"

// PushToken is the token the push service issued for one installation.
type PushToken struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// IsPushToken reports whether s looks like a push service token.
func IsPushToken(s string) bool {
	for _, prefix := range []string{"ExponentPushToken[", "ExpoPushToken["} {
		if strings.HasPrefix(s, prefix) && strings.HasSuffix(s, "]") && len(s) > len(prefix)+1 {
			return true
		}
	}
	return false
}

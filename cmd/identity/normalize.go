package identity

import "strings"

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeLogin canonicalizes an email-or-username identifier and reports
// whether it addresses the email column.
func NormalizeLogin(s string) (login string, isEmail bool) {
	login = strings.ToLower(strings.TrimSpace(s))
	return login, strings.Contains(login, "@")
}

func validUsername(s string) bool {
	if len(s) < 3 || len(s) > 32 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

func validEmail(s string) bool {
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 || len(s) > 254 {
		return false
	}
	return !strings.ContainsAny(s, " \t\r\n") && strings.Contains(s[at+1:], ".")
}

package mpesa

import (
	"fmt"
	"strings"
)

var phoneStripper = strings.NewReplacer(" ", "", "-", "", "+", "")

// NormalizePhone turns user input such as "0712 345 678" or "+254712345678"
// into the 12-digit form the API expects (254712345678).
func NormalizePhone(raw string) (string, error) {
	s := phoneStripper.Replace(strings.TrimSpace(raw))
	if strings.HasPrefix(s, "0") {
		s = "254" + s[1:]
	}
	if len(s) != 12 || !strings.HasPrefix(s, "254") {
		return "", fmt.Errorf("%w: expected 12 digits starting with 254", ErrInvalidPhone)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: non-digit characters", ErrInvalidPhone)
		}
	}
	return s, nil
}

// InternationalPhone renders a normalized number in E.164 form for SMS.
func InternationalPhone(normalized string) string {
	if strings.HasPrefix(normalized, "+") {
		return normalized
	}
	return "+" + normalized
}

// MaskPhone keeps the country prefix and the last three digits for logs.
func MaskPhone(phone string) string {
	if len(phone) < 7 {
		return "***"
	}
	return phone[:4] + strings.Repeat("*", len(phone)-7) + phone[len(phone)-3:]
}

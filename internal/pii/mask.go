// Package pii masks personal data before it reaches log output. Values
// destined for storage are never masked.
package pii

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind selects the masking rule.
type Kind int

const (
	// Text masks any email addresses and phone numbers embedded in free text.
	Text Kind = iota
	Email
	Phone
	Name
)

const placeholder = "***"

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\(?\d[\d\s().-]{5,}\d`)
)

// Mask returns value with the personal parts replaced. It has no side effects.
func Mask(value string, kind Kind) string {
	if value == "" {
		return ""
	}
	switch kind {
	case Email:
		return maskEmail(value)
	case Phone:
		return maskPhone(value)
	case Name:
		return maskName(value)
	default:
		return maskText(value)
	}
}

// maskEmail keeps the first rune of the local part, the first rune of the
// domain and the top-level suffix: john@example.com -> j***@e***.com.
func maskEmail(s string) string {
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return placeholder
	}
	local, domain := s[:at], s[at+1:]

	suffix := ""
	host := domain
	if dot := strings.LastIndex(domain, "."); dot > 0 {
		suffix = domain[dot:]
		host = domain[:dot]
	}
	return firstRune(local) + placeholder + "@" + firstRune(host) + placeholder + suffix
}

// maskPhone replaces every digit except the last two. Separators and a
// leading plus sign are preserved.
func maskPhone(s string) string {
	digits := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	keep := min(2, digits)

	var b strings.Builder
	b.Grow(len(s))
	seen := 0
	for _, r := range s {
		if !unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		seen++
		if seen > digits-keep {
			b.WriteRune(r)
		} else {
			b.WriteByte('*')
		}
	}
	return b.String()
}

func maskName(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		fields[i] = firstRune(f) + placeholder
	}
	return strings.Join(fields, " ")
}

func maskText(s string) string {
	s = emailRe.ReplaceAllStringFunc(s, maskEmail)
	return phoneRe.ReplaceAllStringFunc(s, maskPhone)
}

func firstRune(s string) string {
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return ""
	}
	return string(r)
}

package lead

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Channels are contact fields found directly in the visitor's message.
type Channels struct {
	Phone   string
	Website string
	Email   string
}

var (
	emailRe   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)
	websiteRe = regexp.MustCompile(`(?i)\b(?:https?://[^\s<>"']+|www\.[^\s<>"']+|[a-z0-9][a-z0-9\-]*(?:\.[a-z0-9\-]+)*\.(?:com|net|org|io|co|dev|app|ai|me|design|studio|agency|shop|store|tech|info|biz|us|uk|ca|de|fr|au)\b(?:/[^\s<>"']*)?)`)
	phoneRe   = regexp.MustCompile(`\+?\(?\d[\d\s().\-]{6,}\d`)
	isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// ParseChannels extracts the first phone number, website and email address
// from free text. Text is NFKC-normalized first so full-width digits and
// compatibility characters match. Email addresses are removed before the
// website scan so their domains are not reported as websites.
func ParseChannels(text string) Channels {
	text = norm.NFKC.String(text)

	var ch Channels
	if m := emailRe.FindString(text); m != "" {
		ch.Email = strings.ToLower(m)
	}
	rest := emailRe.ReplaceAllString(text, " ")

	if m := websiteRe.FindString(rest); m != "" {
		ch.Website = strings.TrimRight(m, ".,;:!?)]}")
	}

	for _, m := range phoneRe.FindAllString(rest, -1) {
		m = strings.TrimSpace(m)
		if isoDateRe.MatchString(m) {
			continue
		}
		if n := countDigits(m); n >= 8 && n <= 15 {
			ch.Phone = m
			break
		}
	}
	return ch
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

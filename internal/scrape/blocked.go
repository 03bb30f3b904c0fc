package scrape

import (
	"net/http"
	"strings"
)

// Block reasons.
const (
	BlockCloudflare = "cloudflare"
	BlockCaptcha    = "captcha"
	BlockJSShell    = "js_shell"
	BlockChallenge  = "challenge"
)

// challengeSignatures appear on interstitial pages served instead of content.
var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"attention required",
}

// blockReason reports why a raw HTTP response looks like an anti-bot page,
// or "" when it does not.
func blockReason(resp *http.Response, body []byte) string {
	if resp == nil {
		return ""
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" ||
			resp.Header.Get("server") == "cloudflare" {
			return BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))
	switch {
	case strings.Contains(lower, "cf-browser-verification"),
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge"):
		return BlockCloudflare
	case strings.Contains(lower, "captcha"):
		return BlockCaptcha
	}

	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") ||
			strings.Contains(lower, `meta http-equiv="refresh"`) {
			return BlockJSShell
		}
	}
	return textBlockReason(string(body))
}

// textBlockReason inspects rendered text. Short pages that mention a
// challenge phrase are treated as blocked; long pages may quote one.
func textBlockReason(content string) string {
	if len(content) >= 1000 {
		return ""
	}
	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) {
			return BlockChallenge
		}
	}
	return ""
}

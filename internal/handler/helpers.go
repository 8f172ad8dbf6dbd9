package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// clientIP extracts the calling device's IP from proxy headers (fallback
// chain). Priority: first X-Forwarded-For entry > X-Real-IP > placeholder.
// The broker usually sits behind an edge proxy, so c.IP() alone would see
// the proxy.
func clientIP(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.SplitN(forwarded, ",", 2)[0])
		if first != "" {
			return first
		}
	}

	if realIP := strings.TrimSpace(c.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	if ip := c.IP(); ip != "" {
		return ip
	}

	return "0.0.0.0"
}

// firstNonEmpty returns the first non-empty string, used to collapse payload
// field aliases (fingerprint/device_id, session_id/session_key).
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

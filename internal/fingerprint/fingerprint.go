package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"admin-gateway/internal/model"
)

const unknown = "unknown"

// Generate derives a device fingerprint from request headers. It is a pure
// function: identical headers always produce an identical hash.
//
// The IP address is recorded on the fingerprint but excluded from the hash,
// so a device keeps the same fingerprint across IP changes. The IP is never
// treated as trusted input; it exists for audit trails only.
func Generate(headers http.Header) model.DeviceFingerprint {
	ua := headerOr(headers, "User-Agent", unknown)
	lang := headerOr(headers, "Accept-Language", unknown)
	enc := headerOr(headers, "Accept-Encoding", unknown)

	sum := sha256.Sum256([]byte(ua + lang + enc))

	return model.DeviceFingerprint{
		UserAgent:      ua,
		IPAddress:      clientIP(headers),
		AcceptLanguage: lang,
		AcceptEncoding: enc,
		Hash:           hex.EncodeToString(sum[:]),
	}
}

// clientIP picks the first x-forwarded-for entry, falling back to
// x-real-ip, then "unknown". Proxy headers are spoofable; this value is a
// rate-limit/audit key, not an authorization input.
func clientIP(headers http.Header) string {
	if fwd := headers.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	if real := headers.Get("X-Real-Ip"); real != "" {
		return strings.TrimSpace(real)
	}
	return unknown
}

func headerOr(headers http.Header, key, fallback string) string {
	if v := headers.Get(key); v != "" {
		return v
	}
	return fallback
}

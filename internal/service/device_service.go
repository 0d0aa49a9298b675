package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"

	"github.com/noah-isme/authguard-api/internal/models"
)

const unknownValue = "Unknown"

var botTokens = []string{
	"bot", "crawler", "spider", "scraper", "curl", "wget", "python-requests",
	"headless", "phantomjs", "selenium", "go-http-client", "httpclient", "postman",
}

// DeviceFingerprinter derives client device details from request headers.
// It never fails: missing headers degrade to "Unknown".
type DeviceFingerprinter struct{}

// NewDeviceFingerprinter constructs a fingerprinter.
func NewDeviceFingerprinter() *DeviceFingerprinter {
	return &DeviceFingerprinter{}
}

// Fingerprint parses the request attributes into DeviceInfo.
func (f *DeviceFingerprinter) Fingerprint(req models.RequestContext) models.DeviceInfo {
	info := models.DeviceInfo{
		Browser:        unknownValue,
		OS:             unknownValue,
		DeviceType:     models.DeviceUnknown,
		IPAddress:      ResolveClientIP(req),
		UserAgent:      req.UserAgent,
		AcceptLanguage: req.AcceptLanguage,
		Fingerprint:    fingerprint(req.UserAgent, req.AcceptLanguage),
	}

	raw := strings.TrimSpace(req.UserAgent)
	if raw == "" {
		return info
	}

	ua := useragent.New(raw)
	if name, version := ua.Browser(); name != "" {
		info.Browser = name
		info.BrowserVersion = version
	}
	if os := ua.OS(); os != "" {
		info.OS = os
	}

	info.IsBot = ua.Bot() || IsBotUserAgent(raw)
	switch {
	case info.IsBot:
		info.DeviceType = models.DeviceBot
	case isTablet(raw):
		info.DeviceType = models.DeviceTablet
	case ua.Mobile():
		info.DeviceType = models.DeviceMobile
	default:
		info.DeviceType = models.DeviceDesktop
	}
	return info
}

// IsBotUserAgent matches the user agent against known automation tokens.
func IsBotUserAgent(userAgent string) bool {
	lower := strings.ToLower(userAgent)
	for _, token := range botTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// ResolveClientIP picks the first populated source in precedence order:
// X-Forwarded-For (left-most), X-Real-IP, CF-Connecting-IP, remote address.
// Forwarding headers from a peer that is not a trusted proxy are ignored.
func ResolveClientIP(req models.RequestContext) string {
	candidates := []string{req.RemoteIP}
	if req.ViaTrustedProxy {
		candidates = []string{firstForwarded(req.ForwardedFor), req.RealIP, req.ClientIP, req.RemoteIP}
	}
	for _, candidate := range candidates {
		ip := strings.TrimSpace(candidate)
		if ip == "" {
			continue
		}
		return strings.TrimPrefix(ip, "::ffff:")
	}
	return "unknown"
}

func firstForwarded(header string) string {
	if header == "" {
		return ""
	}
	first, _, _ := strings.Cut(header, ",")
	return first
}

func isTablet(userAgent string) bool {
	lower := strings.ToLower(userAgent)
	if strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") {
		return true
	}
	return strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")
}

// fingerprint excludes the IP so the same device keeps its identity across
// networks.
func fingerprint(userAgent, acceptLanguage string) string {
	sum := sha256.Sum256([]byte(userAgent + "|" + acceptLanguage))
	return hex.EncodeToString(sum[:])
}

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/authguard-api/internal/models"
)

const (
	chromeWindowsUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	iphoneUA        = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	ipadUA          = "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

func TestFingerprintDesktopBrowser(t *testing.T) {
	f := NewDeviceFingerprinter()
	info := f.Fingerprint(models.RequestContext{RemoteIP: "10.0.0.1", UserAgent: chromeWindowsUA, AcceptLanguage: "en-US"})

	assert.Equal(t, "Chrome", info.Browser)
	assert.Contains(t, info.OS, "Windows")
	assert.Equal(t, models.DeviceDesktop, info.DeviceType)
	assert.False(t, info.IsBot)
	assert.Equal(t, "10.0.0.1", info.IPAddress)
	assert.Len(t, info.Fingerprint, 64)
}

func TestFingerprintMobileAndTablet(t *testing.T) {
	f := NewDeviceFingerprinter()

	assert.Equal(t, models.DeviceMobile, f.Fingerprint(models.RequestContext{UserAgent: iphoneUA}).DeviceType)
	assert.Equal(t, models.DeviceTablet, f.Fingerprint(models.RequestContext{UserAgent: ipadUA}).DeviceType)
}

func TestFingerprintDetectsBots(t *testing.T) {
	f := NewDeviceFingerprinter()

	for _, ua := range []string{"curl/8.4.0", "python-requests/2.31", "Go-http-client/1.1", "Mozilla/5.0 HeadlessChrome/120.0"} {
		info := f.Fingerprint(models.RequestContext{UserAgent: ua})
		assert.True(t, info.IsBot, ua)
		assert.Equal(t, models.DeviceBot, info.DeviceType, ua)
	}
}

func TestFingerprintMissingHeaders(t *testing.T) {
	info := NewDeviceFingerprinter().Fingerprint(models.RequestContext{})

	assert.Equal(t, "Unknown", info.Browser)
	assert.Equal(t, "Unknown", info.OS)
	assert.Equal(t, models.DeviceUnknown, info.DeviceType)
	assert.Equal(t, "unknown", info.IPAddress)
	assert.False(t, info.IsBot)
}

func TestFingerprintIgnoresIP(t *testing.T) {
	f := NewDeviceFingerprinter()
	a := f.Fingerprint(models.RequestContext{RemoteIP: "10.0.0.1", UserAgent: chromeWindowsUA, AcceptLanguage: "en"})
	b := f.Fingerprint(models.RequestContext{RemoteIP: "192.168.1.9", UserAgent: chromeWindowsUA, AcceptLanguage: "en"})
	c := f.Fingerprint(models.RequestContext{RemoteIP: "10.0.0.1", UserAgent: chromeWindowsUA, AcceptLanguage: "de"})

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.NotEqual(t, a.Fingerprint, c.Fingerprint)
}

func TestResolveClientIPPrecedence(t *testing.T) {
	cases := []struct {
		name string
		req  models.RequestContext
		want string
	}{
		{"forwarded first entry", models.RequestContext{ForwardedFor: "203.0.113.5, 10.0.0.1", RealIP: "198.51.100.1", RemoteIP: "10.0.0.2", ViaTrustedProxy: true}, "203.0.113.5"},
		{"real ip", models.RequestContext{RealIP: "198.51.100.1", ClientIP: "198.51.100.2", RemoteIP: "10.0.0.2", ViaTrustedProxy: true}, "198.51.100.1"},
		{"cloudflare", models.RequestContext{ClientIP: "198.51.100.2", RemoteIP: "10.0.0.2", ViaTrustedProxy: true}, "198.51.100.2"},
		{"trusted proxy without headers", models.RequestContext{RemoteIP: "10.0.0.2", ViaTrustedProxy: true}, "10.0.0.2"},
		{"remote mapped v4", models.RequestContext{RemoteIP: "::ffff:10.0.0.2"}, "10.0.0.2"},
		{"nothing", models.RequestContext{}, "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveClientIP(tc.req))
		})
	}
}

func TestResolveClientIPIgnoresHeadersFromUntrustedPeer(t *testing.T) {
	req := models.RequestContext{
		RemoteIP:     "10.0.0.1",
		ForwardedFor: "203.0.113.5",
		RealIP:       "198.51.100.1",
		ClientIP:     "198.51.100.2",
	}

	assert.Equal(t, "10.0.0.1", ResolveClientIP(req))
	assert.Equal(t, "10.0.0.1", NewDeviceFingerprinter().Fingerprint(req).IPAddress)
}

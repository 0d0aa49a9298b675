package models

// RequestContext carries the raw request attributes the fingerprinter reads.
// The forwarding fields are honoured only when ViaTrustedProxy is set, meaning
// RemoteIP belongs to a proxy that rewrites those headers.
type RequestContext struct {
	RemoteIP        string
	ForwardedFor    string
	RealIP          string
	ClientIP        string
	ViaTrustedProxy bool
	UserAgent       string
	AcceptLanguage  string
}

// DeviceType classifies the client device.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceBot     DeviceType = "bot"
	DeviceUnknown DeviceType = "unknown"
)

// DeviceInfo is the derived client description. Fingerprint excludes the IP
// so a roaming device keeps its identity.
type DeviceInfo struct {
	Browser        string     `json:"browser"`
	BrowserVersion string     `json:"browser_version"`
	OS             string     `json:"os"`
	DeviceType     DeviceType `json:"device_type"`
	IsBot          bool       `json:"is_bot"`
	IPAddress      string     `json:"ip_address"`
	UserAgent      string     `json:"user_agent"`
	AcceptLanguage string     `json:"-"`
	Fingerprint    string     `json:"fingerprint"`
}

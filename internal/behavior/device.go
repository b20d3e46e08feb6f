// Package behavior records client capture telemetry for a verification and
// serves it to the decision engine's behavioral scoring.
package behavior

import (
	"strings"

	"github.com/mssola/useragent"

	"idverify/internal/verification/models"
)

// Device types.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// automationMarkers are User-Agent fragments of scripted clients that
// useragent does not classify as bots.
var automationMarkers = []string{
	"headlesschrome",
	"phantomjs",
	"selenium",
	"puppeteer",
	"playwright",
	"curl/",
	"wget/",
	"python-requests",
	"go-http-client",
}

// ClassifyDevice derives the client device from a User-Agent header.
func ClassifyDevice(userAgent string) models.Device {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return models.Device{Type: DeviceUnknown}
	}

	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	d := models.Device{
		OS:      ua.OS(),
		Browser: browser,
		Bot:     ua.Bot() || isAutomated(userAgent),
	}
	switch {
	case d.Bot:
		d.Type = DeviceBot
	case ua.Mobile():
		d.Type = DeviceMobile
	default:
		d.Type = DeviceDesktop
	}
	return d
}

func isAutomated(userAgent string) bool {
	lower := strings.ToLower(userAgent)
	for _, marker := range automationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// DisplayName renders a device as "Browser on OS" for logs.
func DisplayName(d models.Device) string {
	if d.Type == DeviceUnknown {
		return "Unknown Device"
	}
	browser := d.Browser
	if browser == "" {
		browser = "Unknown Browser"
	}
	os := d.OS
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}

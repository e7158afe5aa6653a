package consent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromValuesModeMapping(t *testing.T) {
	tests := []struct {
		name       string
		mode       string
		hasConsent string
		want       Mode
	}{
		{"explicit deactivated", "0", "", ModeDeactivated},
		{"external consent deactivates", "2", "1", ModeDeactivated},
		{"loose", "1", "", ModeLoose},
		{"strict", "2", "", ModeStrict},
		{"missing defaults to loose", "", "", ModeLoose},
		{"garbage defaults to loose", "banana", "", ModeLoose},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := FromValues(tt.mode, tt.hasConsent, "")
			assert.Equal(t, tt.want, c.Mode)
		})
	}
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		name     string
		c        Consent
		cookies  bool
		identify bool
		ipHashed bool
		ipClear  bool
	}{
		{
			name:     "deactivated grants everything",
			c:        FromValues("0", "", ""),
			cookies:  true,
			identify: true,
			ipHashed: true,
			ipClear:  true,
		},
		{
			name:     "loose without consent",
			c:        FromValues("1", "", ""),
			cookies:  true,
			identify: false,
			ipHashed: true,
			ipClear:  false,
		},
		{
			name:     "strict without consent",
			c:        FromValues("2", "", ""),
			cookies:  false,
			identify: false,
			ipHashed: false,
			ipClear:  false,
		},
		{
			name:     "external consent overrides strict",
			c:        FromValues("2", "1", ""),
			cookies:  true,
			identify: true,
			ipHashed: true,
			ipClear:  true,
		},
		{
			name:     "opt-out forbids cookies even when deactivated",
			c:        FromValues("0", "", "out"),
			cookies:  false,
			identify: false,
			ipHashed: true,
			ipClear:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.c.TrackAnonymous(), "anonymous tracking is unconditional")
			assert.Equal(t, tt.cookies, tt.c.Cookies(), "Cookies")
			assert.Equal(t, tt.identify, tt.c.Identify(), "Identify")
			assert.Equal(t, tt.ipHashed, tt.c.TrackIPHashed(), "TrackIPHashed")
			assert.Equal(t, tt.ipClear, tt.c.TrackIPClear(), "TrackIPClear")
		})
	}
}

func TestSummary(t *testing.T) {
	s := FromValues("2", "1", "out").Summary()
	assert.Equal(t, "deactivated", s["mode"])
	assert.Equal(t, 1, s["external_consent"])
	assert.Equal(t, 1, s["opt_out"])

	s = FromValues("1", "", "").Summary()
	assert.Equal(t, "loose", s["mode"])
	assert.Equal(t, 0, s["external_consent"])
	assert.Equal(t, 0, s["opt_out"])
}

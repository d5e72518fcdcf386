package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		ua   string
		want PlatformClass
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15", Apple},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15", Apple},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36", Android},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36", Other},
		{"", Other},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectPlatform(tt.ua), tt.ua)
	}
}

func TestDirectionsCandidates(t *testing.T) {
	apple, err := DirectionsCandidates(Request{Address: "Rue de Rivoli 1, Paris", Mode: Transit, Platform: Apple})
	require.NoError(t, err)
	require.Len(t, apple, 2)
	assert.Equal(t, "maps://?daddr=Rue+de+Rivoli+1%2C+Paris&dirflg=r", apple[0].URI)
	assert.Equal(t, "https://www.google.com/maps/dir/?api=1&destination=Rue+de+Rivoli+1%2C+Paris&travelmode=transit", apple[1].URI)

	android, err := DirectionsCandidates(Request{Address: "Main St", Platform: Android})
	require.NoError(t, err)
	require.Len(t, android, 2)
	assert.Equal(t, "intent://maps.google.com/maps?daddr=Main+St&dirflg=d#Intent;scheme=https;package=com.google.android.apps.maps;end", android[0].URI)

	other, err := DirectionsCandidates(Request{Address: "Main St", Mode: Walk, Platform: Other})
	require.NoError(t, err)
	require.Len(t, other, 1)
}

func TestContactCandidates(t *testing.T) {
	tests := []struct {
		channel Channel
		value   string
		want    []string
	}{
		{Phone, "+44 (20) 7946-0958", []string{"tel:+442079460958"}},
		{SMS, "555 0100", []string{"sms:5550100"}},
		{WhatsApp, "+44 20 7946 0958", []string{"whatsapp://send?phone=442079460958", "https://wa.me/442079460958"}},
		{Email, "Shop <hello@example.com>", []string{"mailto:hello@example.com"}},
	}
	for _, tt := range tests {
		candidates, err := ContactCandidates(tt.channel, tt.value)
		require.NoError(t, err, tt.value)
		uris := make([]string, 0, len(candidates))
		for _, c := range candidates {
			uris = append(uris, c.URI)
		}
		assert.Equal(t, tt.want, uris)
	}

	_, err := ContactCandidates(Phone, "call me")
	assert.ErrorIs(t, err, ErrInvalidContact)
	_, err = ContactCandidates(Email, "not-an-address")
	assert.ErrorIs(t, err, ErrInvalidContact)
	_, err = ContactCandidates("pigeon", "x")
	assert.ErrorIs(t, err, ErrUnknownChannel)
	_, err = ContactCandidates(Phone, "")
	assert.ErrorIs(t, err, ErrEmptyTarget)
}

func TestParseHelpers(t *testing.T) {
	mode, err := ParseTravelMode(" Transit ")
	require.NoError(t, err)
	assert.Equal(t, Transit, mode)
	mode, err = ParseTravelMode("")
	require.NoError(t, err)
	assert.Equal(t, Drive, mode)
	_, err = ParseTravelMode("fly")
	assert.ErrorIs(t, err, ErrUnknownMode)

	assert.Equal(t, Apple, ParsePlatformClass("APPLE"))
	assert.Equal(t, Other, ParsePlatformClass("windows"))
}

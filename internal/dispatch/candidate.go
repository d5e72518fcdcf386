package dispatch

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
)

type TravelMode string

const (
	Drive   TravelMode = "drive"
	Transit TravelMode = "transit"
	Walk    TravelMode = "walk"
	Bike    TravelMode = "bike"
)

type PlatformClass string

const (
	Apple   PlatformClass = "apple"
	Android PlatformClass = "android"
	Other   PlatformClass = "other"
)

type Channel string

const (
	Phone    Channel = "phone"
	SMS      Channel = "sms"
	WhatsApp Channel = "whatsapp"
	Email    Channel = "email"
)

var (
	ErrEmptyTarget    = errors.New("empty dispatch target")
	ErrUnknownMode    = errors.New("unknown travel mode")
	ErrUnknownChannel = errors.New("unknown contact channel")
	ErrInvalidContact = errors.New("invalid contact value")
)

// Candidate is one platform invocation tried by the Resolver.
type Candidate struct {
	Label string
	URI   string
}

// Request asks for directions to Address.
type Request struct {
	Address  string
	Mode     TravelMode
	Platform PlatformClass
}

type modeFlags struct {
	web     string
	apple   string
	android string
}

// Apple Maps has no cycling flag, bike falls back to walking there.
var modes = map[TravelMode]modeFlags{
	Drive:   {web: "driving", apple: "d", android: "d"},
	Transit: {web: "transit", apple: "r", android: "r"},
	Walk:    {web: "walking", apple: "w", android: "w"},
	Bike:    {web: "bicycling", apple: "w", android: "b"},
}

func ParseTravelMode(s string) (TravelMode, error) {
	mode := TravelMode(strings.ToLower(strings.TrimSpace(s)))
	if mode == "" {
		return Drive, nil
	}
	if _, ok := modes[mode]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return mode, nil
}

func ParsePlatformClass(s string) PlatformClass {
	switch PlatformClass(strings.ToLower(strings.TrimSpace(s))) {
	case Apple:
		return Apple
	case Android:
		return Android
	default:
		return Other
	}
}

// DetectPlatform classifies a browser user agent.
func DetectPlatform(userAgent string) PlatformClass {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "android"):
		return Android
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"),
		strings.Contains(ua, "macintosh"), strings.Contains(ua, "mac os x"):
		return Apple
	default:
		return Other
	}
}

func webMapsURL(address string, flags modeFlags) string {
	query := url.Values{}
	query.Set("api", "1")
	query.Set("destination", address)
	query.Set("travelmode", flags.web)
	return "https://www.google.com/maps/dir/?" + query.Encode()
}

func appleMapsURI(address string, flags modeFlags) string {
	query := url.Values{}
	query.Set("daddr", address)
	query.Set("dirflg", flags.apple)
	return "maps://?" + query.Encode()
}

func androidIntentURI(address string, flags modeFlags) string {
	query := url.Values{}
	query.Set("daddr", address)
	query.Set("dirflg", flags.android)
	return "intent://maps.google.com/maps?" + query.Encode() +
		"#Intent;scheme=https;package=com.google.android.apps.maps;end"
}

// DirectionsCandidates returns the ordered candidate list for the request's platform class.
func DirectionsCandidates(req Request) ([]Candidate, error) {
	address := strings.TrimSpace(req.Address)
	if address == "" {
		return nil, ErrEmptyTarget
	}
	mode := req.Mode
	if mode == "" {
		mode = Drive
	}
	flags, ok := modes[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}

	web := Candidate{Label: "web maps", URI: webMapsURL(address, flags)}
	switch req.Platform {
	case Apple:
		return []Candidate{{Label: "apple maps", URI: appleMapsURI(address, flags)}, web}, nil
	case Android:
		return []Candidate{{Label: "maps app intent", URI: androidIntentURI(address, flags)}, web}, nil
	default:
		return []Candidate{web}, nil
	}
}

// phoneDigits keeps a leading plus and the digits of a phone number.
func phoneDigits(value string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(value) {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ContactCandidates returns the ordered candidate list for reaching a business on channel.
func ContactCandidates(channel Channel, value string) ([]Candidate, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrEmptyTarget
	}

	switch channel {
	case Phone, SMS, WhatsApp:
		number := phoneDigits(value)
		if strings.TrimPrefix(number, "+") == "" {
			return nil, fmt.Errorf("%w: phone number %q", ErrInvalidContact, value)
		}
		switch channel {
		case Phone:
			return []Candidate{{Label: "phone", URI: "tel:" + number}}, nil
		case SMS:
			return []Candidate{{Label: "sms", URI: "sms:" + number}}, nil
		}
		digits := strings.TrimPrefix(number, "+")
		return []Candidate{
			{Label: "whatsapp app", URI: "whatsapp://send?phone=" + digits},
			{Label: "whatsapp web", URI: "https://wa.me/" + digits},
		}, nil
	case Email:
		address, err := mail.ParseAddress(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidContact, err)
		}
		return []Candidate{{Label: "email", URI: "mailto:" + address.Address}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
}

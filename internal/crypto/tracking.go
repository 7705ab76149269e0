package crypto

import "strings"

// Crockford base32: no I, L, O, U, so codes survive being read over the phone.
const trackingAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// TrackingPrefix starts every tracking code.
const TrackingPrefix = "BL-"

const trackingLen = 8

// TrackingCode returns a fresh opaque code such as "BL-7K2M9QXD".
func TrackingCode() (string, error) {
	raw, err := RandBytes(trackingLen)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.Grow(len(TrackingPrefix) + trackingLen)
	sb.WriteString(TrackingPrefix)
	for _, b := range raw {
		sb.WriteByte(trackingAlphabet[b&31])
	}
	return sb.String(), nil
}

// NormalizeTrackingCode upper-cases user input and maps look-alike letters.
func NormalizeTrackingCode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(s, TrackingPrefix) {
		return s
	}
	body := strings.NewReplacer("O", "0", "I", "1", "L", "1").Replace(s[len(TrackingPrefix):])
	return TrackingPrefix + body
}

package stt

import (
	"encoding/base64"
	"fmt"
	"strings"
)

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	// Clients commonly send data URLs ("data:audio/aac;base64,....").
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	return b, nil
}

// PrimaryLanguage reduces a BCP-47 tag to its primary language subtag
// ("th-TH" → "th"). Vendors that only accept ISO-639-1 codes use it.
func PrimaryLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

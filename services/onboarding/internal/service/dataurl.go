package service

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
)

var errMalformedDataURL = errors.New("malformed data url")

// parseImageDataURL splits a data:image/... URL into its media type and
// decoded bytes.
func parseImageDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, errMalformedDataURL
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errMalformedDataURL
	}

	params := strings.Split(header, ";")
	mediaType := strings.ToLower(strings.TrimSpace(params[0]))
	if !strings.HasPrefix(mediaType, "image/") {
		return "", nil, errMalformedDataURL
	}
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
			if err != nil {
				return "", nil, errMalformedDataURL
			}
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return "", nil, errMalformedDataURL
		}
		data = []byte(unescaped)
	}
	if len(data) == 0 {
		return "", nil, errMalformedDataURL
	}
	return mediaType, data, nil
}

package service

import (
	"errors"
	"strings"

	"image-proxy-go/internal/model"
)

// ErrNotAnImage is returned when a 200 response does not carry an image
// content type. This catches HTML error pages served with a success status.
var ErrNotAnImage = errors.New("upstream did not return an image")

// octetStream is the non-image type some storage backends serve images as.
const octetStream = "binary/octet-stream"

// Classify accepts resp when its Content-Type starts with "image/" or is
// exactly binary/octet-stream, and returns that content type. A missing
// Content-Type is rejected.
func Classify(resp *model.UpstreamResponse) (string, error) {
	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "image/") || ct == octetStream {
		return ct, nil
	}
	return "", ErrNotAnImage
}

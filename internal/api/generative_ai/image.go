package generativeAI

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxImageBytes = 10 << 20

// Image is raw image bytes ready to be attached to a model request.
type Image struct {
	Data     []byte
	MIMEType string
}

// Base64 returns the payload encoded for JSON transport.
func (i Image) Base64() string { return base64.StdEncoding.EncodeToString(i.Data) }

// LoadImage resolves an image reference. A reference is an http(s) URL, a
// data:image URL or bare base64, the forms a chat client sends.
func LoadImage(ctx context.Context, client *http.Client, ref string) (Image, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return Image{}, errors.New("empty image reference")
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return downloadImage(ctx, client, ref)
	case strings.HasPrefix(ref, "data:"):
		return decodeDataURL(ref)
	default:
		data, err := base64.StdEncoding.DecodeString(ref)
		if err != nil {
			return Image{}, fmt.Errorf("image reference is not valid base64: %w", err)
		}
		return Image{Data: data, MIMEType: sniffImageType(data)}, nil
	}
}

func decodeDataURL(ref string) (Image, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return Image{}, errors.New("unsupported data url")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("failed to decode data url: %w", err)
	}
	mimeType := strings.TrimSuffix(header, ";base64")
	if mimeType == "" {
		mimeType = sniffImageType(data)
	}
	return Image{Data: data, MIMEType: mimeType}, nil
}

func downloadImage(ctx context.Context, client *http.Client, url string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Image{}, fmt.Errorf("failed to build image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Image{}, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return Image{}, fmt.Errorf("failed to read image: %w", err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = sniffImageType(data)
	}
	return Image{Data: data, MIMEType: mimeType}, nil
}

func sniffImageType(data []byte) string {
	if t := http.DetectContentType(data); strings.HasPrefix(t, "image/") {
		return t
	}
	return "image/jpeg"
}

// Package qr fetches QR code images for business profile links from an
// external renderer.
package qr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/life-stream-dev/bizfolio/internal/config"
	"github.com/life-stream-dev/bizfolio/internal/logger"
)

const (
	DefaultRendererURL = "https://api.qrserver.com/v1/create-qr-code/"
	DefaultSize        = 300
	maxImageBytes      = 4 << 20
)

var (
	ErrInvalidSize = errors.New("qr size must be between 16 and 2000 pixels")
	ErrRender      = errors.New("qr renderer failed")
)

type Renderer struct {
	endpoint string
	size     int
	client   *http.Client
}

func NewRenderer(cfg config.QRConfig, client *http.Client) *Renderer {
	endpoint := cfg.RendererURL
	if endpoint == "" {
		endpoint = DefaultRendererURL
	}
	size := cfg.Size
	if size <= 0 {
		size = DefaultSize
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Renderer{endpoint: endpoint, size: size, client: client}
}

// ProfileURL is the public link encoded into a business's QR code. The ref
// parameter lets the profile page count the visit as a scan.
func ProfileURL(publicBase, businessID string) string {
	return strings.TrimRight(publicBase, "/") + "/" + url.PathEscape(businessID) + "?ref=qr"
}

// ImageURL returns the renderer URL for data at size pixels, or the
// configured size when size is zero.
func (r *Renderer) ImageURL(data string, size int) (string, error) {
	if size == 0 {
		size = r.size
	}
	if size < 16 || size > 2000 {
		return "", fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", fmt.Errorf("renderer url: %w", err)
	}
	query := u.Query()
	query.Set("size", strconv.Itoa(size)+"x"+strconv.Itoa(size))
	query.Set("format", "png")
	query.Set("data", data)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// Render fetches the PNG image encoding data.
func (r *Renderer) Render(ctx context.Context, data string, size int) ([]byte, error) {
	imageURL, err := r.ImageURL(data, size)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	req.Header.Set("Accept", "image/png")

	startTime := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	defer resp.Body.Close()
	logger.DebugF("QR render returned %d, cost: %v", resp.StatusCode, time.Since(startTime))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrRender, resp.Status)
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("%w: unexpected content type %q", ErrRender, resp.Header.Get("Content-Type"))
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	if n > maxImageBytes {
		return nil, fmt.Errorf("%w: image larger than %d bytes", ErrRender, maxImageBytes)
	}
	return buf.Bytes(), nil
}

package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/LukasBrandt/PicSmith/internal/pkg/env"
)

const (
	defaultEditTimeout = 45 * time.Second
	defaultEditModel   = "picsmith-edit-1"
)

// ErrProviderUnavailable wraps network and server-side failures from the image
// editing backend. The unit consumed for the attempt is not refunded; callers
// tell the user to retry.
var ErrProviderUnavailable = errors.New("image editing backend unavailable")

// EditResult is one finished edit from the backend.
type EditResult struct {
	Image    []byte
	MimeType string
}

// Provider performs AI image edits.
type Provider interface {
	Edit(ctx context.Context, image []byte, mimeType, instructions string) (*EditResult, error)
}

// HTTPProvider talks to the hosted image editing API.
type HTTPProvider struct {
	APIKey     string
	APIBaseURL string
	Model      string

	HTTPClient *http.Client
}

// NewProviderFromEnv builds the provider from environment settings. The edit
// timeout covers the whole request including model inference.
func NewProviderFromEnv() *HTTPProvider {
	return &HTTPProvider{
		APIKey:     env.GetEnv("EDIT_API_KEY", ""),
		APIBaseURL: env.GetEnv("EDIT_API_BASE_URL", "https://api.picsmith.app/v1"),
		Model:      env.GetEnv("EDIT_MODEL", defaultEditModel),
		HTTPClient: &http.Client{
			Timeout: env.GetEnvDuration("EDIT_TIMEOUT", defaultEditTimeout),
		},
	}
}

// Edit sends one image plus editing instructions to the backend and returns
// the edited image.
func (p *HTTPProvider) Edit(ctx context.Context, image []byte, mimeType, instructions string) (*EditResult, error) {
	reqBody, err := json.Marshal(map[string]string{
		"model":        p.Model,
		"image":        base64.StdEncoding.EncodeToString(image),
		"mime_type":    mimeType,
		"instructions": instructions,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.APIBaseURL+"/edits", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrProviderUnavailable, resp.StatusCode, truncate(body, 512))
	}

	var raw struct {
		Image    string `json:"image"`
		MimeType string `json:"mime_type"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrProviderUnavailable, err)
	}
	decoded, err := base64.StdEncoding.DecodeString(raw.Image)
	if err != nil || len(decoded) == 0 {
		return nil, fmt.Errorf("%w: response carried no image", ErrProviderUnavailable)
	}

	mime := raw.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return &EditResult{Image: decoded, MimeType: mime}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/domain"
)

// RemoteRemover sends the decoded image to a segmentation service as a
// multipart "image" field and expects a PNG with alpha back.
type RemoteRemover struct {
	url    string
	client *resty.Client
}

func NewRemoteRemover(url string, timeout time.Duration) (*RemoteRemover, error) {
	if url == "" {
		return nil, fmt.Errorf("remote engine url is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "image/png")

	zlog.Logger.Info().Str("url", url).Dur("timeout", timeout).Msg("RemoteRemover initialized")
	return &RemoteRemover{url: url, client: client}, nil
}

func (r *RemoteRemover) Remove(ctx context.Context, img *domain.DecodedImage) ([]byte, error) {
	if img == nil || img.Image == nil {
		return nil, fmt.Errorf("%w: no image", domain.ErrEngineFailed)
	}

	payload, err := encodePNG(img.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", domain.ErrEngineFailed, err)
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetFileReader("image", "image.png", bytes.NewReader(payload)).
		SetFormData(map[string]string{"type": "input"}).
		Post(r.url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		zlog.Logger.Error().Err(err).Str("url", r.url).Msg("remote engine request failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailed, err)
	}

	if resp.StatusCode() != http.StatusOK {
		zlog.Logger.Error().
			Int("status", resp.StatusCode()).
			Str("url", r.url).
			Msg("remote engine returned non-200 status")
		return nil, fmt.Errorf("%w: status %d", domain.ErrEngineFailed, resp.StatusCode())
	}

	body := resp.Body()
	if _, err := png.DecodeConfig(bytes.NewReader(body)); err != nil {
		zlog.Logger.Error().Err(err).Int("bytes", len(body)).Msg("remote engine response is not a png")
		return nil, fmt.Errorf("%w: response is not a png", domain.ErrEngineFailed)
	}

	zlog.Logger.Info().Int("bytes", len(body)).Dur("elapsed", resp.Time()).Msg("Background removed by remote engine")
	return body, nil
}

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/wb-go/wbf/zlog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/yokitheyo/cutout/internal/config"
	"github.com/yokitheyo/cutout/internal/domain"
)

const (
	EngineChroma = "chroma"
	EngineRemote = "remote"

	// DefaultMaxPixels admits a 24 megapixel photo (6000x4000).
	DefaultMaxPixels int64 = 24_000_000
)

// ImagingDecoder turns submitted bytes into an image, applying EXIF
// orientation the way a browser would render the preview. Images whose
// header declares more than maxPixels are refused before any pixel
// memory is allocated.
type ImagingDecoder struct {
	maxPixels int64
}

func NewImagingDecoder(maxPixels int64) *ImagingDecoder {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &ImagingDecoder{maxPixels: maxPixels}
}

func (d *ImagingDecoder) Decode(ctx context.Context, sub domain.ImageSubmission) (*domain.DecodedImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(sub.Data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrDecodeFailed)
	}

	header, format, err := image.DecodeConfig(bytes.NewReader(sub.Data))
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("filename", sub.Filename).Msg("unrecognized image format")
		return nil, fmt.Errorf("%w: %v", domain.ErrDecodeFailed, err)
	}
	if pixels := int64(header.Width) * int64(header.Height); pixels > d.maxPixels {
		zlog.Logger.Warn().
			Str("filename", sub.Filename).
			Int("width", header.Width).
			Int("height", header.Height).
			Int64("max_pixels", d.maxPixels).
			Msg("declared canvas exceeds pixel ceiling")
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", domain.ErrDecodeFailed, header.Width, header.Height, d.maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(sub.Data), imaging.AutoOrientation(true))
	if err != nil {
		zlog.Logger.Error().Err(err).Str("filename", sub.Filename).Msg("failed to decode image")
		return nil, fmt.Errorf("%w: %v", domain.ErrDecodeFailed, err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		zlog.Logger.Error().Str("filename", sub.Filename).Msg("decoded image is empty")
		return nil, fmt.Errorf("%w: decoded image is empty", domain.ErrDecodeFailed)
	}

	width, height := GetImageDimensions(img)
	zlog.Logger.Info().
		Int("width", width).
		Int("height", height).
		Str("format", format).
		Msg("Image decoded successfully")

	return &domain.DecodedImage{Image: img, Format: format, Width: width, Height: height}, nil
}

// NewRemover builds the removal engine selected in config.
func NewRemover(cfg *config.ProcessingConfig) (domain.Remover, error) {
	switch strings.ToLower(cfg.Engine) {
	case "", EngineChroma:
		return NewChromaKeyRemover(cfg.ChromaTolerance, cfg.FeatherRadius), nil
	case EngineRemote:
		return NewRemoteRemover(cfg.RemoteURL, cfg.RemoteTimeout())
	default:
		return nil, fmt.Errorf("unsupported engine: %s", cfg.Engine)
	}
}

func GetImageDimensions(img image.Image) (width, height int) {
	bounds := img.Bounds()
	return bounds.Dx(), bounds.Dy()
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

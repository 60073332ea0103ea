package processor

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/domain"
)

const (
	DefaultChromaTolerance = 48
	ctxCheckEvery          = 4096
)

// ChromaKeyRemover cuts out the subject by flooding the background inward
// from the image border. Pixels reachable from the edge whose colour stays
// within tolerance of the estimated backdrop become fully transparent.
type ChromaKeyRemover struct {
	tolerance int
	feather   int
}

func NewChromaKeyRemover(tolerance, feather int) *ChromaKeyRemover {
	if tolerance <= 0 {
		tolerance = DefaultChromaTolerance
	}
	if feather < 0 {
		feather = 0
	}
	zlog.Logger.Info().
		Int("tolerance", tolerance).
		Int("feather_radius", feather).
		Msg("ChromaKeyRemover initialized")
	return &ChromaKeyRemover{tolerance: tolerance, feather: feather}
}

func (r *ChromaKeyRemover) Remove(ctx context.Context, img *domain.DecodedImage) ([]byte, error) {
	if img == nil || img.Image == nil {
		return nil, fmt.Errorf("%w: no image", domain.ErrEngineFailed)
	}

	src := imaging.Clone(img.Image)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrEngineFailed)
	}

	bg := borderColor(src)
	mask, err := r.backgroundMask(ctx, src, bg)
	if err != nil {
		return nil, err
	}

	var soft *image.NRGBA
	if r.feather > 0 {
		soft = imaging.Blur(alphaMask(mask, w, h), float64(r.feather))
	}

	cleared := 0
	for i, isBg := range mask {
		a := i*4 + 3
		if isBg {
			src.Pix[a] = 0
			cleared++
			continue
		}
		if soft != nil {
			src.Pix[a] = uint8(uint16(src.Pix[a]) * uint16(soft.Pix[i*4]) / 255)
		}
	}

	out, err := encodePNG(src)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to encode cutout")
		return nil, fmt.Errorf("%w: encode png: %v", domain.ErrEngineFailed, err)
	}

	zlog.Logger.Info().
		Int("width", w).
		Int("height", h).
		Int("cleared_pixels", cleared).
		Ints("backdrop_rgb", bg[:]).
		Msg("Background removed")

	return out, nil
}

func (r *ChromaKeyRemover) backgroundMask(ctx context.Context, img *image.NRGBA, bg [3]int) ([]bool, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	mask := make([]bool, w*h)
	limit := r.tolerance * r.tolerance

	matches := func(i int) bool {
		p := img.Pix[i*4 : i*4+4]
		if p[3] == 0 {
			return true
		}
		dr := int(p[0]) - bg[0]
		dg := int(p[1]) - bg[1]
		db := int(p[2]) - bg[2]
		return dr*dr+dg*dg+db*db <= limit
	}

	queue := make([]int, 0, 2*(w+h))
	seed := func(i int) {
		if !mask[i] && matches(i) {
			mask[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		seed(x)
		seed((h-1)*w + x)
	}
	for y := 0; y < h; y++ {
		seed(y * w)
		seed(y*w + w - 1)
	}

	for n := 0; len(queue) > 0; n++ {
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := i%w, i/w
		if x > 0 {
			seed(i - 1)
		}
		if x < w-1 {
			seed(i + 1)
		}
		if y > 0 {
			seed(i - w)
		}
		if y < h-1 {
			seed(i + w)
		}
	}
	return mask, nil
}

// borderColor averages the opaque pixels on the image edge.
func borderColor(img *image.NRGBA) [3]int {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	var sum [3]int
	n := 0
	add := func(x, y int) {
		p := img.Pix[(y*w+x)*4:]
		if p[3] == 0 {
			return
		}
		sum[0] += int(p[0])
		sum[1] += int(p[1])
		sum[2] += int(p[2])
		n++
	}
	for x := 0; x < w; x++ {
		add(x, 0)
		if h > 1 {
			add(x, h-1)
		}
	}
	for y := 1; y < h-1; y++ {
		add(0, y)
		if w > 1 {
			add(w-1, y)
		}
	}
	if n == 0 {
		return sum
	}
	return [3]int{sum[0] / n, sum[1] / n, sum[2] / n}
}

func alphaMask(mask []bool, w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i, isBg := range mask {
		if !isBg {
			g.Pix[i] = 255
		}
	}
	return g
}

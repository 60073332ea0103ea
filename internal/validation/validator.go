// Package validation checks a submission's declared metadata before any
// decoding work is scheduled.
package validation

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/yokitheyo/cutout/internal/domain"
	"github.com/yokitheyo/cutout/internal/helpers"
)

const (
	DefaultMaxBytes int64 = 10 * 1024 * 1024
	imagePrefix           = "image/"
)

type Validator struct {
	maxBytes int64
}

// New returns a validator with the given size ceiling; a non-positive
// ceiling falls back to DefaultMaxBytes.
func New(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Validator{maxBytes: maxBytes}
}

func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// Validate looks only at the declared type and size. The type is checked
// first, so a huge text file is reported as wrong-type.
func (v *Validator) Validate(sub domain.ImageSubmission) domain.ValidationOutcome {
	mediaType := helpers.NormalizeMediaType(sub.MediaType)
	if !strings.HasPrefix(mediaType, imagePrefix) || len(mediaType) == len(imagePrefix) {
		return domain.Rejected(domain.ReasonWrongType)
	}

	if sub.Size > v.maxBytes {
		out := domain.Rejected(domain.ReasonTooLarge)
		out.Rejection.Message = "Please upload an image smaller than " + sizeLabel(v.maxBytes)
		return out
	}

	sub.MediaType = mediaType
	return domain.Accepted(sub)
}

// sizeLabel renders whole mebibyte ceilings as "10MB" and anything else
// with a binary unit, so sub-megabyte ceilings never read as "0MB".
func sizeLabel(n int64) string {
	const mib = 1024 * 1024
	if n >= mib && n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	return humanize.IBytes(uint64(n))
}

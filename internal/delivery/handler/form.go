package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"classifieds/internal/domain"

	"github.com/gabriel-vasile/mimetype"
)

const (
	imageField = "image"
	// formOverhead is the body allowance for text fields and multipart framing
	// on top of the image size limit.
	formOverhead   = 1 << 20
	multipartInMem = 8 << 20
)

var (
	ErrFileTooLarge     = errors.New("uploaded file too large")
	ErrUnsupportedMedia = errors.New("uploaded file is not an image")
)

// parseAdForm reads ad fields and the optional image from a multipart or
// url-encoded form body.
func (h *AdHandler) parseAdForm(w http.ResponseWriter, r *http.Request) (domain.AdFields, *domain.Attachment, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+formOverhead)

	if err := r.ParseMultipartForm(multipartInMem); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			return domain.AdFields{}, nil, wrapBodyError(err)
		}
		if err := r.ParseForm(); err != nil {
			return domain.AdFields{}, nil, wrapBodyError(err)
		}
	}

	fields := domain.AdFields{
		SellerName: r.PostFormValue("seller_name"),
		Email:      r.PostFormValue("email"),
		Phone:      r.PostFormValue("phone"),
		AdTitle:    r.PostFormValue("ad_title"),
		AdText:     r.PostFormValue("ad_text"),
		Price:      r.PostFormValue("price"),
	}

	if r.MultipartForm == nil {
		return fields, nil, nil
	}

	file, header, err := r.FormFile(imageField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return fields, nil, nil
		}
		return domain.AdFields{}, nil, fmt.Errorf("failed to read %s field: %w", imageField, err)
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		return domain.AdFields{}, nil, ErrFileTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		return domain.AdFields{}, nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	if int64(len(data)) > h.maxUploadBytes {
		return domain.AdFields{}, nil, ErrFileTooLarge
	}
	if len(data) == 0 {
		return fields, nil, nil
	}

	// Sniffed from the bytes; the declared Content-Type is ignored.
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return domain.AdFields{}, nil, fmt.Errorf("%w: detected %s", ErrUnsupportedMedia, detected.String())
	}

	return fields, &domain.Attachment{
		Filename:    header.Filename,
		ContentType: detected.String(),
		Data:        data,
	}, nil
}

func wrapBodyError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return fmt.Errorf("%w: %w", ErrFileTooLarge, err)
	}
	return fmt.Errorf("invalid form body: %w", err)
}

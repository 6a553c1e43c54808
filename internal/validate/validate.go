// Package validate rejects malformed or oversized classify payloads before any
// external work happens. Rules run in a fixed order and the first failure wins.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
)

// Limits of a classify request.
const (
	MaxImages              = 5
	MaxImageBytes          = 5 << 20
	MaxBusinessNameRunes   = 200
	DefaultMaxRequestBytes = 40 << 20
)

var (
	dataURIRe = regexp.MustCompile(`^data:image/(jpeg|png|gif|webp);base64,([A-Za-z0-9+/]+={0,2})$`)
	slotRe    = regexp.MustCompile(`^image[1-5]$`)
)

// Failure names the violated rule and, for images, the offending slot.
type Failure struct {
	Status  int
	Code    string
	Message string
	Field   string
}

func (f *Failure) Error() string {
	if f.Field == "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", f.Code, f.Message, f.Field)
}

func fail(code, field, format string, args ...any) *Failure {
	return &Failure{Status: http.StatusBadRequest, Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validator holds the transport-level ceiling.
type Validator struct {
	maxRequestBytes int64
}

// New returns a Validator; a non-positive ceiling selects DefaultMaxRequestBytes.
func New(maxRequestBytes int64) *Validator {
	if maxRequestBytes <= 0 {
		maxRequestBytes = DefaultMaxRequestBytes
	}
	return &Validator{maxRequestBytes: maxRequestBytes}
}

// MaxRequestBytes returns the transport-level ceiling.
func (v *Validator) MaxRequestBytes() int64 { return v.maxRequestBytes }

// TooLarge is the failure for a body exceeding the transport ceiling.
func (v *Validator) TooLarge() *Failure {
	return &Failure{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    errs.CodeRequestTooLarge,
		Message: fmt.Sprintf("request body exceeds %d bytes", v.maxRequestBytes),
	}
}

// Precheck applies the size ceiling and the media type gate (rules 1 and 2).
// contentLength is -1 when unknown; the body reader must then enforce the ceiling.
func (v *Validator) Precheck(contentLength int64, contentType string) *Failure {
	if contentLength > v.maxRequestBytes {
		return v.TooLarge()
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || mt != "application/json" {
		return &Failure{
			Status:  http.StatusUnsupportedMediaType,
			Code:    errs.CodeInvalidContentType,
			Message: "Content-Type must be application/json",
			Field:   "Content-Type",
		}
	}
	return nil
}

type payload struct {
	Images       json.RawMessage `json:"images"`
	BusinessName json.RawMessage `json:"businessName"`
	Metadata     json.RawMessage `json:"metadata"`
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Parse decodes and validates the body (rules 3 to 5). No partial acceptance:
// one bad image fails the whole request.
func (v *Validator) Parse(body []byte) (model.ClassificationRequest, *Failure) {
	var req model.ClassificationRequest

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return req, fail(errs.CodeInvalidRequestBody, "", "body must be a JSON object")
	}

	slots, f := decodeImages(p.Images)
	if f != nil {
		return req, f
	}

	if !isNull(p.BusinessName) {
		var name string
		if err := json.Unmarshal(p.BusinessName, &name); err != nil {
			return req, fail(errs.CodeInvalidRequestBody, "businessName", "businessName must be a string")
		}
		name = strings.TrimSpace(name)
		if n := utf8.RuneCountInString(name); n < 1 || n > MaxBusinessNameRunes {
			return req, fail(errs.CodeInvalidRequestBody, "businessName",
				"businessName must be 1-%d characters", MaxBusinessNameRunes)
		}
		req.BusinessName = name
	}

	if !isNull(p.Metadata) {
		if err := json.Unmarshal(p.Metadata, &req.Metadata); err != nil {
			return req, fail(errs.CodeInvalidRequestBody, "metadata", "metadata must be valid JSON")
		}
	}

	images := make([]model.Image, 0, len(slots))
	for _, s := range slots {
		m := dataURIRe.FindStringSubmatchIndex(s.value)
		if m == nil {
			return req, fail(errs.CodeInvalidImageFormat, "images."+s.name,
				"%s must be a base64 data URI of type jpeg, png, gif or webp", s.name)
		}
		payloadLen := m[5] - m[4]
		images = append(images, model.Image{
			Slot:     s.name,
			MimeType: "image/" + s.value[m[2]:m[3]],
			Data:     s.value[m[4]:m[5]],
			Size:     payloadLen * 3 / 4,
		})
	}
	for _, img := range images {
		if img.Size > MaxImageBytes {
			return req, fail(errs.CodeImageTooLarge, "images."+img.Slot,
				"%s is about %d bytes, limit is %d", img.Slot, img.Size, MaxImageBytes)
		}
	}

	req.Images = images
	return req, nil
}

type slot struct {
	name  string
	value string
}

// decodeImages returns the present slots ordered by name. Null and empty
// values count as absent.
func decodeImages(raw json.RawMessage) ([]slot, *Failure) {
	if isNull(raw) {
		return nil, fail(errs.CodeNoImagesProvided, "images", "at least one image is required")
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fail(errs.CodeInvalidRequestBody, "images", "images must be an object of image1..image%d", MaxImages)
	}

	present := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		if isNull(v) || bytes.Equal(bytes.TrimSpace(v), []byte(`""`)) {
			continue
		}
		present[k] = v
	}
	switch {
	case len(present) == 0:
		return nil, fail(errs.CodeNoImagesProvided, "images", "at least one image is required")
	case len(present) > MaxImages:
		return nil, fail(errs.CodeTooManyImages, "images", "at most %d images are allowed, got %d", MaxImages, len(present))
	}

	names := make([]string, 0, len(present))
	for k := range present {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]slot, 0, len(names))
	for _, k := range names {
		if !slotRe.MatchString(k) {
			return nil, fail(errs.CodeInvalidRequestBody, "images."+k, "unknown image slot %q", k)
		}
		var s string
		if err := json.Unmarshal(present[k], &s); err != nil {
			return nil, fail(errs.CodeInvalidImageFormat, "images."+k, "%s must be a data URI string", k)
		}
		out = append(out, slot{name: k, value: s})
	}
	return out, nil
}

// Package validator checks article requests before they reach the archive
// or the index. Short or empty text is legal: it simply contributes no
// shingles.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/articlematch/pkg/errors"
)

// MaxKeyLength bounds article keys, which are typically URLs.
const MaxKeyLength = 2048

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields   map[string]string
	tooLarge bool
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// Unwrap reports ErrPayloadTooLarge when the text size is the only problem,
// and ErrInvalidInput otherwise.
func (e *ValidationError) Unwrap() error {
	if e.tooLarge && len(e.Fields) == 1 {
		return apperrors.ErrPayloadTooLarge
	}
	return apperrors.ErrInvalidInput
}

// ValidateArticleRequest checks req against the key rules and maxTextBytes.
func ValidateArticleRequest(req *ingestion.ArticleRequest, maxTextBytes int) error {
	errs := make(map[string]string)
	tooLarge := false

	switch {
	case strings.TrimSpace(req.Key) == "":
		errs["key"] = "key is required"
	case len(req.Key) > MaxKeyLength:
		errs["key"] = fmt.Sprintf("key must be at most %d bytes", MaxKeyLength)
	case !utf8.ValidString(req.Key):
		errs["key"] = "key must be valid UTF-8"
	}

	if maxTextBytes > 0 && len(req.Text) > maxTextBytes {
		errs["text"] = fmt.Sprintf("text must be at most %d bytes", maxTextBytes)
		tooLarge = true
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs, tooLarge: tooLarge}
	}
	return nil
}

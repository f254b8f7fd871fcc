package extractor

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrArticleNotFound   = errors.New("article id not found in input")
	ErrNavigationTimeout = errors.New("listing page navigation timed out")
	ErrNavigationFailed  = errors.New("listing page could not be loaded")
	ErrEmptyFields       = errors.New("listing page rendered without name or price")
	ErrBrowserLaunch     = errors.New("headless browser could not be launched")
)

// ExtractionError tags a failed extraction with its kind and the article it
// was for. errors.Is matches both the kind and the underlying cause.
type ExtractionError struct {
	Kind        error
	Marketplace string
	Article     string
	Err         error
}

func (e *ExtractionError) Error() string {
	msg := e.Kind.Error()
	if e.Article != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Marketplace, e.Article, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Outcome maps an extraction error to a short label for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrArticleNotFound):
		return "article_not_found"
	case errors.Is(err, ErrBrowserLaunch):
		return "browser_launch"
	case errors.Is(err, ErrNavigationTimeout):
		return "navigation_timeout"
	case errors.Is(err, ErrNavigationFailed):
		return "navigation_failed"
	case errors.Is(err, ErrEmptyFields):
		return "empty_fields"
	default:
		return "error"
	}
}

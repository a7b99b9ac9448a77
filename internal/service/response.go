package service

import (
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"

	"github.com/escribano/mapcache/internal/config"
	"github.com/escribano/mapcache/internal/repository/cache"
	"github.com/escribano/mapcache/internal/usecase"
)

// Response is the HTTP envelope handed back to the serving layer: status
// code, modification time, body bytes and headers.
type Response struct {
	Code    int
	MTime   time.Time
	Data    []byte
	Headers http.Header
}

// Conditional carries the request's cache-validation headers. A zero
// value disables conditional handling.
type Conditional struct {
	IfNoneMatch     string
	IfModifiedSince time.Time
}

func etagFor(data []byte) string {
	h := fnv.New64a()
	h.Write(data)
	return fmt.Sprintf("%q", fmt.Sprintf("%016x", h.Sum64()))
}

// assemble packages a stored tile into a success response, short-circuiting
// to 304 when the conditional matches. The 304 decision is all-or-nothing:
// either validator may satisfy it, and the body is always empty when it does.
func assemble(e cache.Entry, ts *config.Tileset, contentType string, cond Conditional) *Response {
	etag := etagFor(e.Data)

	headers := http.Header{}
	headers.Set("ETag", etag)
	if !e.MTime.IsZero() {
		headers.Set("Last-Modified", e.MTime.UTC().Format(http.TimeFormat))
	}
	if maxAge := ts.MaxAge.Std(); maxAge > 0 {
		headers.Set("Cache-Control", fmt.Sprintf("max-age=%d", int(maxAge.Seconds())))
		headers.Set("Expires", time.Now().UTC().Add(maxAge).Format(http.TimeFormat))
	}

	if notModified(e, etag, cond) {
		return &Response{
			Code:    http.StatusNotModified,
			MTime:   e.MTime,
			Headers: headers,
		}
	}

	headers.Set("Content-Type", contentType)

	return &Response{
		Code:    http.StatusOK,
		MTime:   e.MTime,
		Data:    e.Data,
		Headers: headers,
	}
}

func notModified(e cache.Entry, etag string, cond Conditional) bool {
	if cond.IfNoneMatch != "" {
		// If-None-Match takes precedence over If-Modified-Since even when
		// no validator matches.
		return etagMatches(cond.IfNoneMatch, etag)
	}
	if !cond.IfModifiedSince.IsZero() && !e.MTime.IsZero() {
		// HTTP dates have second precision.
		return !e.MTime.Truncate(time.Second).After(cond.IfModifiedSince)
	}
	return false
}

// etagMatches implements the If-None-Match grammar: "*" or a
// comma-separated validator list, with weak validators compared by their
// opaque value.
func etagMatches(header, etag string) bool {
	for _, v := range strings.Split(header, ",") {
		v = strings.TrimSpace(v)
		if v == "*" {
			return true
		}
		if strings.TrimPrefix(v, "W/") == etag {
			return true
		}
	}
	return false
}

// assembleError maps internal error kinds to status codes. Bodies carry
// the error message, never a stack trace.
func assembleError(err error) *Response {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, ErrUnknownTileset), errors.Is(err, ErrUnknownGrid), errors.Is(err, ErrUnknownService):
		code = http.StatusNotFound
	case errors.Is(err, usecase.ErrRenderTimeout):
		code = http.StatusGatewayTimeout
	}

	headers := http.Header{}
	headers.Set("Content-Type", "text/plain; charset=utf-8")

	return &Response{
		Code:    code,
		Data:    []byte(err.Error()),
		Headers: headers,
	}
}

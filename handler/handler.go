// Package handler holds the canonical response-generation handlers: file
// serving (streaming strategy), form handling (synchronous validation, no
// worker) and record lookup (buffered strategy).
package handler

import (
	"errors"
	"path/filepath"
	"strconv"

	"github.com/pebblehttp/pebble/filesystem"
	"github.com/pebblehttp/pebble/http"
	"github.com/pebblehttp/pebble/respond"
	"github.com/pebblehttp/pebble/validation"
)

// Fixed error payloads. Their exact content is not load-bearing.
const (
	MissingFieldBody   = "Missing field"
	NotNumericBody     = "Number field is not numeric"
	FileNotFoundBody   = "File not found"
	RecordNotFoundBody = "Record not found"
)

// ErrNotFound is what a lookup fetch returns for an absent key.
var ErrNotFound = errors.New("handler: no such record")

const textPlain = "text/plain; charset=utf-8"

// File serves GET /file?name=… with the streaming strategy: opening the
// file is the status-determining step and runs on a worker; on success the
// head carries the file size and the body streams chunk by chunk. A missing
// file yields an inline 404 and no stream at all.
func File(exec *respond.Executor, fs filesystem.Filesystem, dir string, opts ...respond.Option) http.Handler {
	return func(ctx *http.RequestCtx) {
		name := ctx.Request.Query("name")
		if name == "" {
			ctx.Response.WithStatus(http.StatusUnprocessableEntity).WithText(MissingFieldBody)
			return
		}
		// Base strips any traversal the client smuggled into name.
		path := filepath.Join(dir, filepath.Base(name))

		pending, err := respond.Streaming(ctx.Ctx, exec, func() (respond.Source, error) {
			file, err := fs.Open(path)
			if errors.Is(err, filesystem.ErrFileNotFound) || errors.Is(err, filesystem.ErrInvalidPath) {
				return respond.Source{
					Head:   respond.NewHead(http.StatusNotFound).With("content-type", textPlain),
					Inline: []byte(FileNotFoundBody),
				}, nil
			}
			if err != nil {
				return respond.Source{}, err
			}

			head := respond.NewHead(http.StatusOK).
				With("content-type", http.GetMimeType(path)).
				With("content-length", strconv.FormatInt(file.Size(), 10))
			return respond.Source{Head: head, Body: file}, nil
		}, opts...)
		if err != nil {
			ctx.Response.WithStatus(http.StatusInternalServerError).WithText("Internal server error")
			return
		}

		ctx.Response.WithResult(pending)
	}
}

// Form handles the urlencoded name/number form. Validation is synchronous
// and pre-head: no blocking I/O is needed to decide these statuses, so no
// worker is involved.
func Form() http.Handler {
	rules := map[string][]string{
		"name":   {"required"},
		"number": {"required", "integer"},
	}

	return func(ctx *http.RequestCtx) {
		name := ctx.Request.FormValue("name")
		number := ctx.Request.FormValue("number")

		violations := validation.ValidateMap(map[string]string{
			"name":   name,
			"number": number,
		}, rules)
		if !violations.IsEmpty() {
			if name == "" || number == "" {
				ctx.Response.WithStatus(http.StatusUnprocessableEntity).WithText(MissingFieldBody)
				return
			}
			ctx.Response.WithStatus(http.StatusUnprocessableEntity).WithText(NotNumericBody)
			return
		}

		ctx.Response.WithStatus(http.StatusOK).WithText("Hello " + name + ", your number is " + number)
	}
}

// Lookup serves GET /lookup?key=… with the buffered strategy: fetch runs on
// a worker, the complete payload comes back with the head, and the response
// carries a computed content-length. Suited to single-row payloads.
func Lookup(exec *respond.Executor, fetch func(key string) ([]byte, error)) http.Handler {
	return func(ctx *http.RequestCtx) {
		key := ctx.Request.Query("key")
		if key == "" {
			ctx.Response.WithStatus(http.StatusUnprocessableEntity).WithText(MissingFieldBody)
			return
		}

		pending, err := respond.Buffered(ctx.Ctx, exec, func() (respond.Head, []byte, error) {
			record, err := fetch(key)
			if errors.Is(err, ErrNotFound) {
				return respond.NewHead(http.StatusNotFound).With("content-type", textPlain),
					[]byte(RecordNotFoundBody), nil
			}
			if err != nil {
				return respond.Head{}, nil, err
			}
			return respond.NewHead(http.StatusOK).With("content-type", textPlain), record, nil
		})
		if err != nil {
			ctx.Response.WithStatus(http.StatusInternalServerError).WithText("Internal server error")
			return
		}

		ctx.Response.WithResult(pending)
	}
}

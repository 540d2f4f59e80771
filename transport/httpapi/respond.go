package httpapi

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	syncErrors "github.com/c0deZ3R0/go-rental-sync/errors"
)

// errDecompressedTooLarge is a sentinel error for decompressed size limit violations
var errDecompressedTooLarge = errors.New("decompressed data exceeds maximum size limit")

var (
	errUnsupportedMediaType = errors.New("unsupported media type")
	errUnsupportedEncoding  = errors.New("unsupported content encoding")
)

// respondWithJSON responds to an HTTP request with a JSON payload
func (s *Server) respondWithJSON(w http.ResponseWriter, r *http.Request, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "failed to marshal response")
		return
	}

	useCompression := s.options.CompressionEnabled &&
		int64(len(response)) >= s.options.CompressionThreshold &&
		strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")

	w.Header().Set("Content-Type", "application/json")
	if useCompression {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		w.WriteHeader(code)

		gz := gzip.NewWriter(w)
		defer gz.Close()
		gz.Write(response)
		return
	}
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithError responds to an HTTP request with an error message
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, code int, message string) {
	s.respondWithJSON(w, r, code, map[string]string{"message": message})
}

// respondWithMappedError maps err to a status code. Unexpected errors are
// logged and hidden from the client.
func (s *Server) respondWithMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := publicMessage(err)
	if status >= http.StatusInternalServerError {
		s.logger.LogError(r.Context(), err, "request failed")
		message = http.StatusText(status)
	}
	s.respondWithError(w, r, status, message)
}

// statusFor maps errors to HTTP status codes.
func statusFor(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, errDecompressedTooLarge), errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedMediaType), errors.Is(err, errUnsupportedEncoding):
		return http.StatusUnsupportedMediaType
	}
	switch syncErrors.KindOf(err) {
	case syncErrors.KindNotFound:
		return http.StatusNotFound
	case syncErrors.KindConflict:
		return http.StatusConflict
	case syncErrors.KindInvalid:
		return http.StatusBadRequest
	case syncErrors.KindForbidden:
		return http.StatusForbidden
	case syncErrors.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// publicMessage returns the innermost error text, without operation and
// component decoration.
func publicMessage(err error) string {
	for {
		var e *syncErrors.Error
		if !errors.As(err, &e) || e.Err == nil {
			return err.Error()
		}
		err = e.Err
	}
}

// maxDecompressedReader wraps an io.Reader to enforce decompressed size limits
type maxDecompressedReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
}

func (r *maxDecompressedReader) Read(p []byte) (int, error) {
	if r.consumed >= r.limit {
		return 0, errDecompressedTooLarge
	}
	if remaining := r.limit - r.consumed; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.reader.Read(p)
	r.consumed += int64(n)
	if r.consumed >= r.limit && err == nil {
		var probe [1]byte
		if _, peekErr := r.reader.Read(probe[:]); peekErr == nil {
			return n, errDecompressedTooLarge
		}
	}
	return n, err
}

// decodeJSON reads a size limited, optionally gzip encoded JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		return fmt.Errorf("%w: %s", errUnsupportedMediaType, contentType)
	}

	var body io.Reader = http.MaxBytesReader(w, r.Body, s.options.MaxRequestSize)
	switch encoding := strings.TrimSpace(strings.ToLower(r.Header.Get("Content-Encoding"))); encoding {
	case "":
	case "gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return syncErrors.NewValidationError(syncErrors.OpDecode, fmt.Errorf("invalid gzip data: %w", err))
		}
		defer gz.Close()
		body = &maxDecompressedReader{reader: gz, limit: s.options.MaxDecompressedSize}
	default:
		return fmt.Errorf("%w: %s", errUnsupportedEncoding, encoding)
	}

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.Is(err, errDecompressedTooLarge) || errors.As(err, &maxBytesErr) {
			return err
		}
		return syncErrors.NewValidationError(syncErrors.OpDecode, fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}

// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

type compressionAlgorithm int

const (
	algorithmNone compressionAlgorithm = iota
	algorithmGzip
	algorithmBrotli
	algorithmZstd
	algorithmDeflate
)

// SelectiveCompress compresses responses once they exceed minSize bytes,
// picking the best algorithm the client accepts. Small responses pass
// through untouched since the encoding overhead outweighs the savings.
func SelectiveCompress(minSize, level int, preferZstd, preferBrotli bool) func(http.Handler) http.Handler {
	if level < 1 {
		level = 1
	}
	if level > 9 {
		level = 9
	}
	if minSize < 0 {
		minSize = 1024
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			algorithm := negotiateAlgorithm(r.Header.Get("Accept-Encoding"), preferZstd, preferBrotli)
			if algorithm == algorithmNone {
				next.ServeHTTP(w, r)
				return
			}

			wrapped := &compressionWriter{
				ResponseWriter: w,
				algorithm:      algorithm,
				minSize:        minSize,
				level:          level,
			}
			w.Header().Set("Vary", "Accept-Encoding")

			next.ServeHTTP(wrapped, r)

			wrapped.Close()
		})
	}
}

// compressionWriter buffers the response until it either crosses minSize
// or the handler finishes, so the encoding decision lands before any
// header hits the wire. The status code is held back the same way.
type compressionWriter struct {
	http.ResponseWriter
	algorithm compressionAlgorithm
	writer    io.Writer
	buf       []byte
	minSize   int
	level     int
	status    int
	decided   bool
}

func (w *compressionWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *compressionWriter) Write(data []byte) (int, error) {
	if w.decided {
		return w.writer.Write(data)
	}

	w.buf = append(w.buf, data...)

	if len(w.buf) >= w.minSize {
		if err := w.commit(true); err != nil {
			return 0, err
		}
	}

	return len(data), nil
}

// commit settles on compressed or passthrough output, sends the held-back
// headers, and drains the buffered body. Must run before anything reaches
// the underlying writer.
func (w *compressionWriter) commit(compress bool) error {
	w.decided = true

	if compress && w.compressibleContentType() {
		if err := w.initCompression(); err == nil {
			// Content-Length would be wrong once the body is encoded.
			w.Header().Del("Content-Length")
		}
	}
	if w.writer == nil {
		w.writer = w.ResponseWriter
	}

	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.ResponseWriter.WriteHeader(w.status)

	if len(w.buf) > 0 {
		_, err := w.writer.Write(w.buf)
		w.buf = nil
		return err
	}
	return nil
}

func (w *compressionWriter) compressibleContentType() bool {
	contentType := w.Header().Get("Content-Type")
	return strings.Contains(contentType, "text/") ||
		strings.Contains(contentType, "application/json") ||
		strings.Contains(contentType, "application/xml") ||
		strings.Contains(contentType, "application/javascript")
}

func (w *compressionWriter) initCompression() error {
	switch w.algorithm {
	case algorithmZstd:
		encoder, err := zstd.NewWriter(w.ResponseWriter, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(w.level)))
		if err != nil {
			return err
		}
		w.Header().Set("Content-Encoding", "zstd")
		w.writer = encoder

	case algorithmBrotli:
		w.Header().Set("Content-Encoding", "br")
		w.writer = brotli.NewWriterLevel(w.ResponseWriter, w.level)

	case algorithmGzip:
		gz, err := gzip.NewWriterLevel(w.ResponseWriter, w.level)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Encoding", "gzip")
		w.writer = gz

	case algorithmDeflate:
		fl, err := flate.NewWriter(w.ResponseWriter, w.level)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Encoding", "deflate")
		w.writer = fl
	}

	return nil
}

// Flush commits whatever has been buffered so far. A handler that flushes
// early forfeits compression for bodies still under minSize.
func (w *compressionWriter) Flush() {
	if !w.decided {
		_ = w.commit(len(w.buf) >= w.minSize)
	}
	if flusher, ok := w.writer.(http.Flusher); ok {
		flusher.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *compressionWriter) Close() error {
	if !w.decided {
		if err := w.commit(len(w.buf) >= w.minSize); err != nil {
			return err
		}
	}
	if closer, ok := w.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// negotiateAlgorithm picks the strongest encoding the client accepts,
// honoring the server-side preference flags for zstd and brotli.
func negotiateAlgorithm(acceptEncoding string, preferZstd, preferBrotli bool) compressionAlgorithm {
	encodings := parseAcceptEncoding(acceptEncoding)

	if preferZstd && encodings["zstd"] > 0 {
		return algorithmZstd
	}
	if preferBrotli && encodings["br"] > 0 {
		return algorithmBrotli
	}
	if encodings["gzip"] > 0 {
		return algorithmGzip
	}
	if encodings["deflate"] > 0 {
		return algorithmDeflate
	}

	return algorithmNone
}

// parseAcceptEncoding maps each accepted encoding to its quality value.
func parseAcceptEncoding(acceptEncoding string) map[string]float64 {
	encodings := make(map[string]float64)

	for part := range strings.SplitSeq(acceptEncoding, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		encoding := part
		qvalue := 1.0

		if idx := strings.Index(part, ";q="); idx != -1 {
			encoding = strings.TrimSpace(part[:idx])
			if q, err := strconv.ParseFloat(strings.TrimSpace(part[idx+3:]), 64); err == nil && q >= 0 && q <= 1 {
				qvalue = q
			}
		}

		if encoding == "*" {
			for _, name := range []string{"gzip", "br", "zstd", "deflate"} {
				if _, ok := encodings[name]; !ok {
					encodings[name] = qvalue
				}
			}
			continue
		}

		encodings[encoding] = qvalue
	}

	return encodings
}

package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// BodySource produces a fresh request body for every attempt.
type BodySource interface {
	NewReader() (io.ReadCloser, error)
	ContentLength() (int64, bool)
	ContentType() string
}

// JSONBody encodes v once and replays it.
func JSONBody(v any) (BodySource, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return &inlineBodySource{data: data, contentType: "application/json"}, nil
}

// TextBody sends s as text/plain.
func TextBody(s string) BodySource {
	return &inlineBodySource{data: []byte(s), contentType: "text/plain; charset=utf-8"}
}

type inlineBodySource struct {
	data        []byte
	contentType string
}

func (s *inlineBodySource) NewReader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s *inlineBodySource) ContentLength() (int64, bool) {
	return int64(len(s.data)), true
}

func (s *inlineBodySource) ContentType() string {
	return s.contentType
}

type emptyBodySource struct{}

func (emptyBodySource) NewReader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (emptyBodySource) ContentLength() (int64, bool) {
	return 0, true
}

func (emptyBodySource) ContentType() string {
	return ""
}

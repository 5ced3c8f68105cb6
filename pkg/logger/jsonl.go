package logger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"quatstream/pkg/protocol"
)

type JSONLWriter struct {
	enc          *json.Encoder
	errorHandler func(error)
}

type jsonRecord struct {
	TS     string  `json:"ts"`
	Remote string  `json:"remote,omitempty"`
	W      float64 `json:"w"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
	RawHex string  `json:"raw_hex"`
}

type Option func(*JSONLWriter)

func WithErrorHandler(fn func(error)) Option {
	return func(j *JSONLWriter) {
		if fn != nil {
			j.errorHandler = fn
		}
	}
}

func NewJSONLWriter(w io.Writer, opts ...Option) *JSONLWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	j := &JSONLWriter{enc: enc}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Consume writes one line per reading until in closes or ctx is done.
// Readings that cannot be represented in JSON (NaN or infinite components)
// are reported and skipped.
func (j *JSONLWriter) Consume(ctx context.Context, in <-chan protocol.Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case reading, ok := <-in:
			if !ok {
				return
			}
			rec := jsonRecord{
				TS:     reading.Timestamp.UTC().Format(time.RFC3339Nano),
				Remote: reading.Remote,
				W:      reading.Sample.W,
				X:      reading.Sample.X,
				Y:      reading.Sample.Y,
				Z:      reading.Sample.Z,
				RawHex: hex.EncodeToString(reading.Raw[:]),
			}
			if err := j.enc.Encode(rec); err != nil && j.errorHandler != nil {
				j.errorHandler(fmt.Errorf("write reading: %w", err))
			}
		}
	}
}

package ws

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"

	"github.com/codepad/padclient/internal/metrics"
)

// DefaultCompressThreshold is the serialized envelope size above which frames
// are gzipped and sent as binary.
const DefaultCompressThreshold = 128

var gzipWriters = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// encodeFrame picks the wire frame for a serialized envelope. Payloads longer
// than threshold bytes are gzipped into a binary frame; a negative threshold
// disables compression.
func encodeFrame(payload []byte, threshold int) (int, []byte, error) {
	if threshold < 0 || len(payload) <= threshold {
		return websocket.TextMessage, payload, nil
	}

	var buf bytes.Buffer
	zw := gzipWriters.Get().(*gzip.Writer)
	defer gzipWriters.Put(zw)
	zw.Reset(&buf)
	if _, err := zw.Write(payload); err != nil {
		return 0, nil, fmt.Errorf("gzip frame: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, nil, fmt.Errorf("gzip frame: %w", err)
	}
	return websocket.BinaryMessage, buf.Bytes(), nil
}

// decodeFrame returns the JSON text carried by a frame. The frame type alone
// decides whether the data is gzipped.
func decodeFrame(messageType int, data []byte, limit int64) ([]byte, error) {
	switch messageType {
	case websocket.TextMessage:
		return data, nil
	case websocket.BinaryMessage:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gunzip frame: %w", err)
		}
		defer zr.Close()
		var r io.Reader = zr
		if limit > 0 {
			r = io.LimitReader(zr, limit+1)
		}
		text, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("gunzip frame: %w", err)
		}
		if limit > 0 && int64(len(text)) > limit {
			return nil, fmt.Errorf("gunzip frame: decompressed size exceeds %d bytes", limit)
		}
		return text, nil
	default:
		return nil, fmt.Errorf("unexpected frame type %d", messageType)
	}
}

func frameKind(messageType int) string {
	if messageType == websocket.BinaryMessage {
		return metrics.KindBinary
	}
	return metrics.KindText
}

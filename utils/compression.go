package utils

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// CompressionAlgorithm names how a payload was compressed
type CompressionAlgorithm string

const (
	CompressionNone   CompressionAlgorithm = "none"
	CompressionBrotli CompressionAlgorithm = "br"
)

// payloads shorter than this are stored as is
const compressThreshold = 512

var errMalformedPayload = errors.New("malformed payload")

// ChooseCompression skips compression for payloads too small to benefit
func ChooseCompression(data []byte) CompressionAlgorithm {
	if len(data) < compressThreshold {
		return CompressionNone
	}
	return CompressionBrotli
}

// Compress compresses data with algorithm
func Compress(data []byte, algorithm CompressionAlgorithm) ([]byte, error) {
	switch algorithm {
	case CompressionNone:
		return data, nil
	case CompressionBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("brotli write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("brotli close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

// Decompress reverses Compress
func Decompress(data []byte, algorithm CompressionAlgorithm) ([]byte, error) {
	switch algorithm {
	case CompressionNone:
		return data, nil
	case CompressionBrotli:
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("brotli read: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

// EncodePayload compresses data when worthwhile and prefixes it with the
// algorithm, as "<algorithm>|<bytes>"
func EncodePayload(data []byte) ([]byte, error) {
	algorithm := ChooseCompression(data)
	body, err := Compress(data, algorithm)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(algorithm)+1+len(body))
	out = append(out, algorithm...)
	out = append(out, '|')
	return append(out, body...), nil
}

// DecodePayload reverses EncodePayload
func DecodePayload(raw []byte) ([]byte, error) {
	algorithm, body, ok := bytes.Cut(raw, []byte("|"))
	if !ok {
		return nil, errMalformedPayload
	}
	return Decompress(body, CompressionAlgorithm(algorithm))
}

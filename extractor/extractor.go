// Package extractor defines the embedding-extractor collaborator boundary.
//
// Turning pixels into an embedding is out of scope for the engine; it only
// needs something that maps image bytes to a fixed-dimension vector. The
// engine normalizes whatever comes back, so providers do not have to return
// unit vectors.
package extractor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
)

var (
	// ErrNoFaceDetected means the provider processed the image but found
	// no usable face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrInvalidImage means the bytes are not a decodable image.
	ErrInvalidImage = errors.New("invalid image")
)

// Extractor maps image bytes to an embedding vector.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]float32, error)
}

var imageMagics = [][]byte{
	{0xFF, 0xD8, 0xFF}, // JPEG
	{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, // PNG
	[]byte("RIFF"), // WebP container
	[]byte("GIF87a"),
	[]byte("GIF89a"),
}

// LooksLikeImage reports whether data starts with a known image magic
// header (JPEG, PNG, WebP, GIF).
func LooksLikeImage(data []byte) bool {
	for _, magic := range imageMagics {
		if bytes.HasPrefix(data, magic) {
			return true
		}
	}
	return false
}

// Stub is a deterministic extractor for tests and model-free development.
// It hashes the image bytes and expands the digest into a Dim-length
// vector, so the same bytes always produce the same embedding. Images
// shorter than 64 bytes simulate a face-detection miss.
type Stub struct {
	// Dim is the output dimension. Zero means 128.
	Dim int
	// CheckFormat rejects inputs without an image magic header.
	CheckFormat bool
}

// Extract implements Extractor.
func (s *Stub) Extract(_ context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, ErrInvalidImage
	}
	if s.CheckFormat && !LooksLikeImage(image) {
		return nil, ErrInvalidImage
	}
	if len(image) < 64 {
		return nil, ErrNoFaceDetected
	}

	dim := s.Dim
	if dim <= 0 {
		dim = 128
	}

	digest := sha256.Sum256(image)
	vec := make([]float32, dim)
	for i := range vec {
		// Centered so unrelated images land near zero cosine similarity.
		vec[i] = float32(digest[i%len(digest)]) - 127.5
	}
	return vec, nil
}

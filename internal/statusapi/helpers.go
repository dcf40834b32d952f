package statusapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"
)

// maxBodySize bounds configuration documents pushed over HTTP.
const maxBodySize = 1 << 20

// CalculatedHash is the HMAC-SHA256 of body under key.
func CalculatedHash(body []byte, key string) []byte {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(body)
	return h.Sum(nil)
}

// VerifyRequestHash checks a hex HashSHA256 header against body. It passes
// when no key is configured.
func VerifyRequestHash(body []byte, headerHash string, key string) error {
	if key == "" {
		return nil
	}
	if headerHash == "" {
		return fmt.Errorf("missing HashSHA256 header")
	}
	headerHashBytes, err := hex.DecodeString(headerHash)
	if err != nil {
		return fmt.Errorf("invalid hash format")
	}
	if !hmac.Equal(headerHashBytes, CalculatedHash(body, key)) {
		return fmt.Errorf("hash mismatch")
	}
	return nil
}

func DecompressBody(body []byte) ([]byte, error) {
	gzipReader, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	decompressed, err := io.ReadAll(io.LimitReader(gzipReader, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress data: %w", err)
	}
	return decompressed, nil
}

func ReadRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}

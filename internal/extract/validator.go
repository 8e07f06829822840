package extract

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// DefaultMaxFileSize bounds the size of accepted source files
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

var pdfMagic = []byte("%PDF-")

// Validator checks source files before any parser touches them
type Validator struct {
	maxFileSize int64
}

// NewValidator creates a validator; a non-positive limit uses DefaultMaxFileSize
func NewValidator(maxFileSize int64) *Validator {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Validator{maxFileSize: maxFileSize}
}

// ValidateFile reports whether path names a readable, non-empty PDF within
// the size limit. Failures wrap ErrInvalidInput.
func (v *Validator) ValidateFile(path string) error {
	_, err := v.readFile(path)
	return err
}

// readFile validates and returns the file bytes
func (v *Validator) readFile(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path cannot be empty", ErrInvalidInput)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: file does not exist: %s", ErrInvalidInput, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: cannot access file: %v", ErrInvalidInput, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: path is a directory, not a file: %s", ErrInvalidInput, path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: file is empty: %s", ErrInvalidInput, path)
	}
	if info.Size() > v.maxFileSize {
		return nil, fmt.Errorf("%w: file too large: %d bytes (max: %d bytes)",
			ErrInvalidInput, info.Size(), v.maxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read file: %v", ErrInvalidInput, err)
	}
	// the header may follow a few bytes of junk
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !bytes.Contains(head, pdfMagic) {
		return nil, fmt.Errorf("%w: file is not a PDF: %s", ErrInvalidInput, path)
	}
	return data, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

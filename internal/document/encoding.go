package document

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"go.lsp.dev/uri"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type EncodingResult struct {
	Encoding string `json:"encoding"`
	HasBOM   bool   `json:"has_bom"`
}

const maxSampleSize = 8192

func DetectEncoding(data []byte) EncodingResult {
	if len(data) == 0 {
		return EncodingResult{Encoding: "utf-8"}
	}

	if result, ok := detectBOM(data); ok {
		return result
	}

	sample, truncated := data, false
	if len(sample) > maxSampleSize {
		sample, truncated = data[:maxSampleSize], true
	}

	switch {
	case looksUTF16(sample, 1):
		return EncodingResult{Encoding: "utf-16le"}
	case looksUTF16(sample, 0):
		return EncodingResult{Encoding: "utf-16be"}
	case utf8.Valid(sample) || (truncated && validUTF8Prefix(sample)):
		return EncodingResult{Encoding: "utf-8"}
	default:
		return EncodingResult{Encoding: "windows-1252"}
	}
}

func detectBOM(data []byte) (EncodingResult, bool) {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return EncodingResult{Encoding: "utf-8", HasBOM: true}, true
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return EncodingResult{Encoding: "utf-16le", HasBOM: true}, true
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return EncodingResult{Encoding: "utf-16be", HasBOM: true}, true
	}
	return EncodingResult{}, false
}

// validUTF8Prefix accepts a sample that was cut in the middle of a rune.
func validUTF8Prefix(sample []byte) bool {
	for i := 1; i < utf8.UTFMax && i < len(sample); i++ {
		if utf8.Valid(sample[:len(sample)-i]) {
			return true
		}
	}
	return false
}

// looksUTF16 reports whether most code units have a zero byte at the given
// parity, which is what ASCII-heavy UTF-16 source looks like.
func looksUTF16(data []byte, zeroAt int) bool {
	if len(data) < 2 || len(data)%2 != 0 {
		return false
	}
	zeros := 0
	for i := zeroAt; i < len(data); i += 2 {
		if data[i] == 0 {
			zeros++
		}
	}
	return float64(zeros)/float64(len(data)/2) > 0.75
}

func NormalizeToUTF8(data []byte, detected EncodingResult) string {
	switch detected.Encoding {
	case "utf-16le":
		return decodeWithFallback(data, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder())
	case "utf-16be":
		return decodeWithFallback(data, unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder())
	case "windows-1252":
		return decodeWithFallback(data, charmap.Windows1252.NewDecoder())
	default:
		if detected.HasBOM {
			data = data[3:]
		}
		return string(bytes.ToValidUTF8(data, []byte("\uFFFD")))
	}
}

func decodeWithFallback(data []byte, decoder *encoding.Decoder) string {
	if len(data) == 0 {
		return ""
	}

	result, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), decoder))
	if err != nil {
		return string(bytes.ToValidUTF8(data, []byte("\uFFFD")))
	}
	return string(bytes.ToValidUTF8(result, []byte("\uFFFD")))
}

// Load reads path from disk into a Buffer at version 0.
func Load(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	detected := DetectEncoding(data)
	buf := NewBuffer(uri.File(path), LanguageID(path), 0, NormalizeToUTF8(data, detected))
	buf.fromDisk = true
	return buf, nil
}

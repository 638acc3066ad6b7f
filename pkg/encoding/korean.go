// Package encoding converts the EUC-KR names found in GRF archives.
package encoding

import (
	"strings"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

func isASCII(s []byte) bool {
	for _, c := range s {
		if c > 127 {
			return false
		}
	}
	return true
}

// EUCKRToUTF8 converts EUC-KR encoded bytes to a UTF-8 string.
// ASCII input and input that fails to decode are returned unchanged.
func EUCKRToUTF8(data []byte) string {
	if isASCII(data) {
		return string(data)
	}
	result, _, err := transform.Bytes(korean.EUCKR.NewDecoder(), data)
	if err != nil {
		return string(data)
	}
	return string(result)
}

// UTF8ToEUCKR converts a UTF-8 string to EUC-KR bytes.
// Strings that cannot be encoded are returned as their UTF-8 bytes.
func UTF8ToEUCKR(s string) []byte {
	if isASCII([]byte(s)) {
		return []byte(s)
	}
	result, _, err := transform.Bytes(korean.EUCKR.NewEncoder(), []byte(s))
	if err != nil {
		return []byte(s)
	}
	return result
}

// NormalizeGRFPath normalizes a decoded archive path for case-insensitive
// lookup: forward slashes, lower case.
func NormalizeGRFPath(path string) string {
	return strings.ToLower(strings.ReplaceAll(path, "\\", "/"))
}

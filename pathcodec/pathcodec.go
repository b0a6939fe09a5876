// Package pathcodec encodes arbitrary Unicode path segments into filenames
// that are legal, reversible, and safe on case-insensitive filesystems.
//
// The scheme is locked as part of the wire format: each
// segment's UTF-8 bytes are encoded as lowercase hex. Hex is total (every
// byte sequence has an encoding), reversible (decode is the exact inverse),
// case-insensitive-safe (the alphabet is lowercase-only, so folding case
// never collides two distinct segments), and bounded (exactly 2 output
// bytes per input byte, so path depth is the only source of length growth,
// not the encoding itself). Do not change this scheme without a migration
// plan: every existing on-disk directory tree depends on it.
package pathcodec

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// fileNameSeparator joins encoded segments into a single filename component.
// Safe because the hex alphabet ("0-9a-f") never produces a "-", so
// splitting on it is unambiguous.
const fileNameSeparator = "-"

// Encode converts a single path segment into a filesystem-legal name.
func Encode(segment string) string {
	return hex.EncodeToString([]byte(segment))
}

// Decode reverses Encode. It returns an error if name is not valid hex,
// which indicates the name did not originate from Encode. Upper-case hex
// digits are accepted, and the decoded bytes are returned as-is without a
// UTF-8 validity check.
func Decode(name string) (string, error) {
	b, err := hex.DecodeString(name)
	if err != nil {
		return "", fmt.Errorf("pathcodec: %q is not valid hex: %w", name, err)
	}
	return string(b), nil
}

// EncodePath encodes every segment of a path independently; each segment
// becomes one path component on disk.
func EncodePath(path []string) []string {
	out := make([]string, len(path))
	for i, seg := range path {
		out[i] = Encode(seg)
	}
	return out
}

// DecodePath reverses EncodePath.
func DecodePath(encoded []string) ([]string, error) {
	out := make([]string, len(encoded))
	for i, seg := range encoded {
		dec, err := Decode(seg)
		if err != nil {
			return nil, err
		}
		out[i] = dec
	}
	return out, nil
}

// EncodeFileName flattens a whole path into the single filename component
// V1's new-entries/stored-entries and V2's stored-entries use
// (".../<path-encoded>"): each segment is hex-encoded, then joined with "-".
func EncodeFileName(path []string) string {
	if len(path) == 0 {
		return fileNameSeparator
	}
	return strings.Join(EncodePath(path), fileNameSeparator)
}

// DecodeFileName reverses EncodeFileName.
func DecodeFileName(name string) ([]string, error) {
	if name == fileNameSeparator {
		return []string{}, nil
	}
	return DecodePath(strings.Split(name, fileNameSeparator))
}

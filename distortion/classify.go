// Package distortion implements the black-box distort(path, factor) -> path
// operation named by spec.md: text word-length filtering and a stand-in
// media byte-domain transform, plus the media-kind classifier that decides
// which of the two a submitted filename belongs to.
package distortion

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Kind identifies the media class a file's contents belong to. It mirrors
// components.Kind in value and meaning but is declared independently so this
// package never imports components (components imports distortion to invoke
// the black-box distort operation, and Go forbids the reverse).
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindMedia
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "Text"
	case KindMedia:
		return "Media"
	default:
		return "Unknown"
	}
}

// textPatterns and mediaPatterns are the glob patterns recognized for each
// Kind, taken from original_source/fleck/flecklib.c's file listing globs
// (.txt for Text; .wav, .jpg, .png for Media).
var (
	textPatterns  = []string{"*.txt"}
	mediaPatterns = []string{"*.wav", "*.jpg", "*.png"}
)

// ErrUnknownKind is returned by Classify when filename matches neither the
// Text nor the Media glob set.
var ErrUnknownKind = fmt.Errorf("distortion: file extension not recognized")

// Classify determines the media Kind of filename by matching it against the
// configured glob patterns, using the same doublestar matcher the pack's
// word-frequency computation uses for its own file selection.
func Classify(filename string) (Kind, error) {
	for _, pat := range textPatterns {
		if ok, _ := doublestar.Match(pat, filename); ok {
			return KindText, nil
		}
	}
	for _, pat := range mediaPatterns {
		if ok, _ := doublestar.Match(pat, filename); ok {
			return KindMedia, nil
		}
	}
	return KindUnknown, ErrUnknownKind
}

package distortion

import (
	"bufio"
	"fmt"
	"io"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// DistortText streams src to dst, dropping every "word" (maximal run of
// letter grapheme clusters) shorter than factor while passing every other
// input byte through unchanged. Grounded on
// original_source/worker/enigma/enigmalib.c's distort_file_text, with the
// byte-oriented isalpha() scan generalized to walk grapheme clusters via
// uniseg so multi-byte UTF-8 characters are never split mid-rune.
func DistortText(src io.Reader, dst io.Writer, factor int) error {
	if factor < 1 {
		return fmt.Errorf("distortion: factor must be >= 1, got %d", factor)
	}

	input, err := io.ReadAll(src)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(dst)

	var word []byte
	wordLen := 0 // length in grapheme clusters, not bytes

	flushWord := func() error {
		if wordLen >= factor {
			if _, err := w.Write(word); err != nil {
				return err
			}
		}
		word = word[:0]
		wordLen = 0
		return nil
	}

	rest := input
	for len(rest) > 0 {
		cluster, _, _, _ := uniseg.FirstGraphemeClusterInString(string(rest), -1)
		if cluster == "" {
			break
		}
		if isLetterCluster(cluster) {
			word = append(word, cluster...)
			wordLen++
		} else {
			if err := flushWord(); err != nil {
				return err
			}
			if _, err := w.Write([]byte(cluster)); err != nil {
				return err
			}
		}
		rest = rest[len(cluster):]
	}

	if err := flushWord(); err != nil {
		return err
	}
	return w.Flush()
}

// isLetterCluster reports whether the grapheme cluster's base rune is a
// letter (original: isalpha() on the raw byte).
func isLetterCluster(cluster string) bool {
	r, _ := utf8.DecodeRuneInString(cluster)
	return unicode.IsLetter(r)
}

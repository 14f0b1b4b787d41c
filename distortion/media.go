package distortion

import (
	"fmt"
	"io"
)

// DistortMedia streams src to dst, dropping every factor-th byte. This
// stands in for the original's external SO_compressAudio/SO_compressImage
// calls (spec.md §1: "the concrete distortion algorithms ... treated as
// pure black-box distort(path, factor) -> path functions") — the real
// codecs are explicitly out of scope, so this is a deterministic,
// dependency-free placeholder that still exercises the transfer state
// machine end to end (output size and checksum genuinely differ from the
// input, round-tripping through §8's MD5 checks).
func DistortMedia(src io.Reader, dst io.Writer, factor int) error {
	if factor < 1 {
		return fmt.Errorf("distortion: factor must be >= 1, got %d", factor)
	}

	buf := make([]byte, 4096)
	kept := make([]byte, 0, 4096)
	var index int64

	for {
		n, err := src.Read(buf)
		for i := 0; i < n; i++ {
			if index%int64(factor) != 0 {
				kept = append(kept, buf[i])
			}
			index++
		}
		if len(kept) > 0 {
			if _, werr := dst.Write(kept); werr != nil {
				return werr
			}
			kept = kept[:0]
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

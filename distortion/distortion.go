package distortion

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// OutputPath returns the path the distorted file is written to: a
// "_distorted" suffix for Text, the same path (overwritten in place) for
// Media (spec.md §4.5 phase 3).
func OutputPath(kind Kind, inputPath string) string {
	if kind == KindMedia {
		return inputPath
	}
	return inputPath + "_distorted"
}

// Distort runs the black-box distort(path, factor) -> path operation named
// by spec.md for the given Kind, reading inputPath and writing the result
// to OutputPath(kind, inputPath).
func Distort(kind Kind, inputPath string, factor int) (outputPath string, err error) {
	outputPath = OutputPath(kind, inputPath)

	in, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("distortion: open input: %w", err)
	}
	defer in.Close()

	// Media is distorted in place: read fully before truncating the file we
	// are about to overwrite.
	if kind == KindMedia {
		tmp, err := os.CreateTemp("", "distort-media-*")
		if err != nil {
			return "", fmt.Errorf("distortion: create temp file: %w", err)
		}
		defer os.Remove(tmp.Name())

		if err := DistortMedia(in, tmp, factor); err != nil {
			tmp.Close()
			return "", fmt.Errorf("distortion: distort media: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return "", fmt.Errorf("distortion: close temp file: %w", err)
		}
		in.Close()

		if err := copyFile(tmp.Name(), outputPath); err != nil {
			return "", fmt.Errorf("distortion: write media output: %w", err)
		}
		return outputPath, nil
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("distortion: create output: %w", err)
	}
	defer out.Close()

	if err := DistortText(in, out, factor); err != nil {
		return "", fmt.Errorf("distortion: distort text: %w", err)
	}
	return outputPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
}

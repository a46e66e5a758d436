// Package sidecar reads and writes the BIDS JSON metadata files that
// accompany NIfTI images. Documents are handled as generic maps so
// fields the combination pipeline does not interpret survive the
// round trip untouched.
package sidecar

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// echoTimeField is the BIDS key holding the echo time of an image.
const echoTimeField = "EchoTime"

// PathFor derives the sidecar path for an image file by stripping the
// image extension (.nii or .nii.gz) and appending .json.
func PathFor(imagePath string) string {
	base := strings.TrimSuffix(imagePath, ".gz")
	base = strings.TrimSuffix(base, ".nii")
	return base + ".json"
}

// ReadEchoTime returns the EchoTime recorded in the sidecar of the
// given image.
func ReadEchoTime(imagePath string) (float64, error) {
	doc, err := read(PathFor(imagePath))
	if err != nil {
		return 0, err
	}
	te, ok := doc[echoTimeField].(float64)
	if !ok {
		return 0, fmt.Errorf("no numeric %s field in %s", echoTimeField, PathFor(imagePath))
	}
	return te, nil
}

// WriteDerived copies the sidecar of srcImage next to dstImage,
// replacing EchoTime with the effective echo time of the combined
// volume. A missing source sidecar is returned as an os.ErrNotExist
// error so callers can choose to skip.
func WriteDerived(srcImage, dstImage string, effectiveTE float64) error {
	doc, err := read(PathFor(srcImage))
	if err != nil {
		return err
	}
	doc[echoTimeField] = effectiveTE

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}
	dst := PathFor(dstImage)
	if err := os.WriteFile(dst, append(out, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write sidecar %s: %w", dst, err)
	}
	return nil
}

func read(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar %s: %w", path, err)
	}
	return doc, nil
}

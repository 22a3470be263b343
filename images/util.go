package images

import (
	"crypto/md5"
	"encoding/hex"
	"image"

	"gocv.io/x/gocv"
)

// Size returns the width and height of a Mat as a point.
func Size(mat gocv.Mat) image.Point {
	return image.Point{X: mat.Cols(), Y: mat.Rows()}
}

// Checksum hashes the pixel buffer of a Mat so tests can tell whether a frame was drawn on.
//
// Returns:
//   - A hex-encoded MD5 of the raw bytes, or "empty" for an empty or non-continuous Mat.
func Checksum(mat gocv.Mat) string {
	if mat.Empty() {
		return "empty"
	}
	data, err := mat.DataPtrUint8()
	if err != nil {
		return "empty"
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

package models

import (
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var versionPattern = regexp.MustCompile(`\d+`)

// Discover picks the newest darknet model in dir.
//
// Every yolov*.weights file is paired with the .cfg of the same stem. Weights without a
// matching config are rejected. Among the valid pairs the one with the greatest numeric
// version (the first number in the file name) wins; equal versions are ordered by stem so
// the choice is stable.
//
// Arguments:
//   - dir: Directory to scan.
//   - labels: Label file to attach to the descriptor ("" for built-in COCO).
//   - inputSize: Network input resolution for the selected model.
//
// Returns:
//   - The descriptor of the newest pair, or ErrModelNotFound if there is none.
func Discover(dir, labels string, inputSize image.Point) (Descriptor, error) {
	weights, err := filepath.Glob(filepath.Join(dir, "yolov*.weights"))
	if err != nil {
		return Descriptor{}, errors.Wrapf(err, "scan %s", dir)
	}

	type candidate struct {
		stem    string
		version int
	}
	var candidates []candidate
	for _, w := range weights {
		stem := strings.TrimSuffix(filepath.Base(w), ".weights")
		match := versionPattern.FindString(stem)
		if match == "" {
			continue
		}
		version, err := strconv.Atoi(match)
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, stem+".cfg")); err != nil {
			continue
		}
		candidates = append(candidates, candidate{stem: stem, version: version})
	}

	if len(candidates) == 0 {
		return Descriptor{}, errors.Wrapf(ErrModelNotFound, "no yolov<N>.weights with matching .cfg in %s", dir)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].version != candidates[j].version {
			return candidates[i].version > candidates[j].version
		}
		return candidates[i].stem < candidates[j].stem
	})
	best := candidates[0]

	d := Descriptor{
		Name:      best.stem,
		Format:    FormatDarknet,
		Layout:    LayoutYOLOv4,
		Weights:   filepath.Join(dir, best.stem+".weights"),
		Config:    filepath.Join(dir, best.stem+".cfg"),
		Labels:    labels,
		InputSize: inputSize,
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

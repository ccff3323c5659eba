package birdnet

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

// LabelsPathFor returns the label file that accompanies a model artifact:
// <dir>/<id>.tflite is paired with <dir>/<id>_labels.txt.
func LabelsPathFor(modelPath string) string {
	return strings.TrimSuffix(modelPath, ".tflite") + "_labels.txt"
}

// ReadLabels reads one label per non-empty line.
func ReadLabels(r io.Reader) ([]string, error) {
	var labels []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return labels, nil
}

func loadLabelFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("birdnet").
			Category(errors.CategoryModelLoad).
			Context("label_path", path).
			Build()
	}
	defer f.Close()

	labels, err := ReadLabels(f)
	if err != nil {
		return nil, errors.New(err).
			Component("birdnet").
			Category(errors.CategoryModelLoad).
			Context("label_path", path).
			Build()
	}
	if len(labels) == 0 {
		return nil, errors.Newf("label file %s is empty", path).
			Component("birdnet").
			Category(errors.CategoryModelLoad).
			Build()
	}
	return labels, nil
}

// SplitLabel splits a "Scientific name_Common name" label. Labels without a
// common part are returned as the scientific name.
func SplitLabel(label string) (scientific, common string) {
	scientific, common, _ = strings.Cut(label, "_")
	// some label sets append a species code after a second underscore
	common, _, _ = strings.Cut(common, "_")
	return strings.TrimSpace(scientific), strings.TrimSpace(common)
}

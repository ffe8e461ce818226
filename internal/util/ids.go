package util

import (
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const runIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewRunID returns a sortable, collision-resistant id for a training run,
// e.g. "20261016-k3v9x2m1q0".
func NewRunID(now time.Time) (string, error) {
	suffix, err := gonanoid.Generate(runIDAlphabet, 10)
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return now.UTC().Format("20060102") + "-" + suffix, nil
}

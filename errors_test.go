package main

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{ErrConfig, ErrStorage, ErrValidation, ErrTransport, ErrLiveness}
	for i := range sentinels {
		for j := range sentinels {
			if i == j {
				continue
			}
			if errors.Is(sentinels[i], sentinels[j]) {
				t.Fatalf("sentinel %v should not match %v", sentinels[i], sentinels[j])
			}
		}
	}
}

func TestWrappedSentinelIsDetectable(t *testing.T) {
	err := fmt.Errorf("%w: detail", ErrValidation)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("wrapped error should satisfy errors.Is against ErrValidation")
	}
	if errors.Is(err, ErrStorage) {
		t.Fatalf("wrapped ErrValidation should not satisfy errors.Is against ErrStorage")
	}
}

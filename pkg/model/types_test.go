package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePlate(t *testing.T) {
	assert.Equal(t, "CT4373PP", NormalizePlate(" ct 4373 pp "))
	assert.Equal(t, "CT4373PP", NormalizePlate("CT4373PP"))
	assert.Equal(t, NormalizePlate(" ct 4373 pp "), NormalizePlate("CT4373PP"))
	assert.Equal(t, "", NormalizePlate("   "))
}

func TestFailureRetriable(t *testing.T) {
	cases := map[FailureKind]bool{
		EnvironmentError:   false,
		NavigationError:    true,
		Timeout:            true,
		ValidationRejected: false,
		ExtractionError:    false,
		SessionExpired:     false,
	}
	for kind, want := range cases {
		f := Failuref(kind, "x")
		assert.Equal(t, want, f.Retriable(), string(kind))
	}
}

func TestAsFailure(t *testing.T) {
	f := Failuref(Timeout, "selector never appeared")
	wrapped := fmt.Errorf("run insurance: %w", f)

	got, ok := AsFailure(wrapped)
	assert.True(t, ok)
	assert.Equal(t, Timeout, got.Kind)

	_, ok = AsFailure(errors.New("plain"))
	assert.False(t, ok)
}

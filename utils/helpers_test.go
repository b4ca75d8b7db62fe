package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, uint64(10), NormalizeLimit(0))
	assert.Equal(t, uint64(1), NormalizeLimit(1))
	assert.Equal(t, uint64(100), NormalizeLimit(100))
	assert.Equal(t, uint64(100), NormalizeLimit(101))
}

func TestDefaultString(t *testing.T) {
	assert.Equal(t, "fallback", DefaultString("", "fallback"))
	assert.Equal(t, "value", DefaultString("value", "fallback"))
}

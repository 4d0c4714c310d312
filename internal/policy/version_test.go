package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextVersion(t *testing.T) {
	assert.Equal(t, "1.1", NextVersion("1.0"))
	assert.Equal(t, "1.10", NextVersion("1.9"))
	assert.Equal(t, "2.1", NextVersion("2.0"))
	assert.Equal(t, InitialVersion, NextVersion(""))
	assert.Equal(t, InitialVersion, NextVersion("not-a-version"))
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 0, CompareVersions("1.0", "1.0"))
	assert.Equal(t, -1, CompareVersions("1.0", "1.1"))
	assert.Equal(t, 1, CompareVersions("2.0", "1.9"))
	// Numeric, not lexicographic: 1.10 follows 1.9.
	assert.Equal(t, 1, CompareVersions("1.10", "1.9"))
	assert.Equal(t, -1, CompareVersions("1.9", "1.10"))
}

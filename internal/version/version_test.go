package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildID_Stable(t *testing.T) {
	id := BuildID()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, BuildID())
}

func TestFullInfo(t *testing.T) {
	assert.Contains(t, FullInfo(), Version)
	assert.Equal(t, Version, Info())
}

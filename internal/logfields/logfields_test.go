package logfields

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	assert.Equal(t, KeySlug, Slug("add-logging").Key)
	assert.Equal(t, "add-logging", Slug("add-logging").Value.String())

	assert.Equal(t, KeyPhase, Phase("verifying").Key)
	assert.Equal(t, KeyCount, Count(3).Key)
	assert.Equal(t, int64(3), Count(3).Value.Int64())
}

func TestErrorHelper(t *testing.T) {
	assert.Equal(t, "", Error(nil).Value.String())
	assert.Equal(t, "boom", Error(errors.New("boom")).Value.String())
}

package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionalString(t *testing.T) {
	assert.Nil(t, OptionalString(""))
	assert.Nil(t, OptionalString("  \n"))

	p := OptionalString(" hello ")
	require.NotNil(t, p)
	assert.Equal(t, " hello ", *p)
}

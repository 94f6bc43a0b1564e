package randid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	id := Generate(12)
	assert.Len(t, id, 12)
	assert.Empty(t, strings.Trim(id, alphabet))
	assert.Empty(t, Generate(0))
	assert.Empty(t, Generate(-1))
}

func TestLabel(t *testing.T) {
	l := Label("publisher", 6)
	assert.True(t, strings.HasPrefix(l, "publisher-"))
	assert.Len(t, l, len("publisher-")+6)

	assert.Len(t, Label("  ", 6), 6)
}

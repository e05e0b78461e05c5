package db

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tarancss/por/lib/store"
)

func TestNewUnknown(t *testing.T) {
	s, err := New("sqlite", "file::memory:")
	assert.ErrorIs(t, err, store.ErrUnknownDB)
	assert.Nil(t, s)

	assert.NoError(t, Close("sqlite", nil))
}

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetGravatarURL(t *testing.T) {
	url := GetGravatarURL("Ada@Example.com ", 200)
	// Normalization: trimmed and lowercased before hashing.
	assert.Equal(t, GetGravatarURL("ada@example.com", 200), url)
	assert.Contains(t, url, "https://www.gravatar.com/avatar/")
	assert.Contains(t, url, "s=200")
}

func TestGetGravatarURLDefaultSize(t *testing.T) {
	url := GetGravatarURL("ada@example.com", 0)
	assert.Contains(t, url, "s=200")
}

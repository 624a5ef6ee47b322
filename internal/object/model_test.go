package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusConstants(t *testing.T) {
	assert.Equal(t, Status("UPLOADING"), StatusUploading)
	assert.Equal(t, Status("COMPLETED"), StatusCompleted)
	assert.Equal(t, Status("FAILED"), StatusFailed)
}

func TestDigestAlgorithmIsSHA256(t *testing.T) {
	assert.Equal(t, "SHA-256", DigestAlgorithm)
}

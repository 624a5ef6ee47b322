package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectPathWithTenant(t *testing.T) {
	assert.Equal(t, "acme/uploads/report.pdf", objectPath("acme", "uploads", "report.pdf"))
}

func TestObjectPathGlobalNamespace(t *testing.T) {
	assert.Equal(t, "uploads/report.pdf", objectPath("", "uploads", "report.pdf"))
}

func TestTenantArgEmptyIsNil(t *testing.T) {
	assert.Nil(t, tenantArg(""))
}

func TestTenantArgNonEmpty(t *testing.T) {
	assert.Equal(t, "acme", tenantArg("acme"))
}

package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetBuildInfoNeverNil(t *testing.T) {
	bi := GetBuildInfo()
	assert.NotNil(t, bi)
	assert.NotEmpty(t, bi.GoVersion)
}

func TestGetBuildInfoDependenciesSorted(t *testing.T) {
	bi := GetBuildInfo()
	for i := 1; i < len(bi.Dependencies); i++ {
		assert.LessOrEqual(t, bi.Dependencies[i-1].Path, bi.Dependencies[i].Path)
	}
}

func TestGetDependencyUnknownModule(t *testing.T) {
	d := GetDependency("example.com/does-not-exist/ever")
	assert.Nil(t, d)
}

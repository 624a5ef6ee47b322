package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvstore.dev/kvstore/internal/apperr"
	"kvstore.dev/kvstore/internal/tenant"
)

func TestRequestTenant(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(tenant.Header, "acme")
	c := e.NewContext(req, httptest.NewRecorder())
	assert.Equal(t, "acme", requestTenant(c))

	reqNoHeader := httptest.NewRequest(http.MethodGet, "/", nil)
	c2 := e.NewContext(reqNoHeader, httptest.NewRecorder())
	assert.Equal(t, "", requestTenant(c2))
}

func TestParseRangeNoHeader(t *testing.T) {
	rng, err := parseRange("", 100)
	require.NoError(t, err)
	assert.False(t, rng.set)
}

func TestParseRangeSuffix(t *testing.T) {
	rng, err := parseRange("bytes=-10", 100)
	require.NoError(t, err)
	assert.True(t, rng.set)
	assert.Equal(t, int64(90), rng.offset)
	assert.Equal(t, int64(10), rng.length)
}

func TestParseRangeSuffixLargerThanSize(t *testing.T) {
	rng, err := parseRange("bytes=-1000", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rng.offset)
	assert.Equal(t, int64(100), rng.length)
}

func TestParseRangeOpenEnded(t *testing.T) {
	rng, err := parseRange("bytes=50-", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(50), rng.offset)
	assert.Equal(t, int64(-1), rng.length)
}

func TestParseRangeOpenEndedPastSize(t *testing.T) {
	_, err := parseRange("bytes=500-", 100)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindUnsatisfiable, ae.Kind)
}

func TestParseRangeBounded(t *testing.T) {
	rng, err := parseRange("bytes=10-19", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rng.offset)
	assert.Equal(t, int64(10), rng.length)
}

func TestParseRangeBoundedClampsToSize(t *testing.T) {
	rng, err := parseRange("bytes=90-999", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(90), rng.offset)
	assert.Equal(t, int64(10), rng.length)
}

func TestParseRangeMultiRangeRejected(t *testing.T) {
	_, err := parseRange("bytes=0-10,20-30", 100)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
}

func TestParseRangeMalformed(t *testing.T) {
	for _, header := range []string{"bytes=abc-10", "bytes=10-abc", "bytes=20-10", "nope=0-10"} {
		_, err := parseRange(header, 100)
		ae, ok := apperr.As(err)
		require.True(t, ok, "header %q should error", header)
		assert.Equal(t, apperr.KindValidation, ae.Kind)
	}
}

func TestContentRangeHeader(t *testing.T) {
	assert.Equal(t, "bytes 0-9/100", contentRangeHeader(0, 10, 100))
	assert.Equal(t, "bytes 90-99/100", contentRangeHeader(90, 10, 100))
}

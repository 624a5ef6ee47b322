package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"kvstore.dev/kvstore/internal/apperr"
	"kvstore.dev/kvstore/internal/tenant"
)

// requestTenant extracts X-Tenant-ID, normalizing an absent/empty header
// to "" (the global namespace).
func requestTenant(c echo.Context) string {
	return c.Request().Header.Get(tenant.Header)
}

// byteRange is a parsed HTTP Range request (single range only).
type byteRange struct {
	set    bool
	offset int64
	length int64 // -1 means "to end of object"
}

// parseRange parses a single-range "bytes=a-b | a- | -n" header value
// against an object of the given size. An absent header yields a
// non-set, full-body range.
func parseRange(header string, size int64) (byteRange, error) {
	if header == "" {
		return byteRange{}, nil
	}
	if !strings.HasPrefix(header, "bytes=") {
		return byteRange{}, apperr.Validation("unsupported range unit")
	}
	spec := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(spec, ",") {
		return byteRange{}, apperr.Validation("multi-range requests are not supported")
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return byteRange{}, apperr.Validation("malformed range header")
	}

	switch {
	case parts[0] == "" && parts[1] != "":
		// suffix range: last N bytes
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, apperr.Validation("malformed range header")
		}
		if n > size {
			n = size
		}
		return byteRange{set: true, offset: size - n, length: n}, nil
	case parts[0] != "" && parts[1] == "":
		start, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || start < 0 {
			return byteRange{}, apperr.Validation("malformed range header")
		}
		if start >= size {
			return byteRange{}, apperr.New(apperr.KindUnsatisfiable, fmt.Sprintf("range not satisfiable for object of size %d", size))
		}
		return byteRange{set: true, offset: start, length: -1}, nil
	case parts[0] != "" && parts[1] != "":
		start, err1 := strconv.ParseInt(parts[0], 10, 64)
		end, err2 := strconv.ParseInt(parts[1], 10, 64)
		if err1 != nil || err2 != nil || start < 0 || end < start {
			return byteRange{}, apperr.Validation("malformed range header")
		}
		if start >= size {
			return byteRange{}, apperr.New(apperr.KindUnsatisfiable, fmt.Sprintf("range not satisfiable for object of size %d", size))
		}
		if end >= size {
			end = size - 1
		}
		return byteRange{set: true, offset: start, length: end - start + 1}, nil
	default:
		return byteRange{}, apperr.Validation("malformed range header")
	}
}

func contentRangeHeader(offset, length, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, size)
}

type bucketResponse struct {
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	MaxValueSize     int64  `json:"maxValueSize,omitempty"`
	MaxHistoryPerKey int    `json:"maxHistoryPerKey,omitempty"`
	TTLSeconds       int64  `json:"ttlSeconds,omitempty"`
}

type entryResponse struct {
	Key       string `json:"key"`
	Value     string `json:"value,omitempty"`
	Revision  int64  `json:"revision"`
	Operation string `json:"operation"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

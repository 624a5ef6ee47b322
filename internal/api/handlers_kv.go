package api

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"kvstore.dev/kvstore/internal/apperr"
	"kvstore.dev/kvstore/internal/kv"
)

type createBucketRequest struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	MaxValueSize     int64  `json:"maxValueSize"`
	MaxHistoryPerKey int    `json:"maxHistoryPerKey"`
	TTLSeconds       int64  `json:"ttlSeconds"`
}

func toBucketResponse(b *kv.Bucket) bucketResponse {
	return bucketResponse{
		Name:             b.Name,
		Description:      b.Description,
		MaxValueSize:     b.MaxValueSize,
		MaxHistoryPerKey: b.MaxHistoryPerKey,
		TTLSeconds:       b.TTLSeconds,
	}
}

func (h *Handlers) createKVBucket(c echo.Context) error {
	var req createBucketRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("malformed request body")
	}
	b, err := h.KV.CreateBucket(c.Request().Context(), requestTenant(c), kv.CreateBucketParams{
		Name:             req.Name,
		Description:      req.Description,
		MaxValueSize:     req.MaxValueSize,
		MaxHistoryPerKey: req.MaxHistoryPerKey,
		TTLSeconds:       req.TTLSeconds,
	})
	if err != nil {
		return err
	}
	if h.Registry != nil {
		h.Registry.SeedBucket(b.ID, b.Name)
	}
	return c.JSON(http.StatusCreated, toBucketResponse(b))
}

func (h *Handlers) listKVBuckets(c echo.Context) error {
	buckets, err := h.KV.ListBuckets(c.Request().Context(), requestTenant(c))
	if err != nil {
		return err
	}
	out := make([]bucketResponse, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, toBucketResponse(b))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handlers) getKVBucket(c echo.Context) error {
	b, err := h.KV.GetBucket(c.Request().Context(), requestTenant(c), c.Param("bucket"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toBucketResponse(b))
}

func (h *Handlers) updateKVBucket(c echo.Context) error {
	var req createBucketRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("malformed request body")
	}
	b, err := h.KV.UpdateBucket(c.Request().Context(), requestTenant(c), c.Param("bucket"), kv.CreateBucketParams{
		Description:      req.Description,
		MaxValueSize:     req.MaxValueSize,
		MaxHistoryPerKey: req.MaxHistoryPerKey,
		TTLSeconds:       req.TTLSeconds,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toBucketResponse(b))
}

func (h *Handlers) deleteKVBucket(c echo.Context) error {
	if err := h.KV.DeleteBucket(c.Request().Context(), requestTenant(c), c.Param("bucket")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) purgeKVBucket(c echo.Context) error {
	n, err := h.KV.PurgeBucket(c.Request().Context(), requestTenant(c), c.Param("bucket"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, countResponse{Count: n})
}

func (h *Handlers) listKeys(c echo.Context) error {
	keys, err := h.KV.ListKeys(c.Request().Context(), requestTenant(c), c.Param("bucket"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, keys)
}

func toEntryResponse(e *kv.Entry) entryResponse {
	r := entryResponse{
		Key:       e.Key,
		Revision:  e.Revision,
		Operation: string(e.Operation),
	}
	if !e.IsTombstone() {
		r.Value = base64.StdEncoding.EncodeToString(e.Value)
	}
	if e.ExpiresAt != nil {
		r.ExpiresAt = e.ExpiresAt.Format(timeLayout)
	}
	return r
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func (h *Handlers) getKey(c echo.Context) error {
	e, err := h.KV.Get(c.Request().Context(), requestTenant(c), c.Param("bucket"), c.Param("key"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toEntryResponse(e))
}

func (h *Handlers) getKeyRevision(c echo.Context) error {
	rev, err := strconv.ParseInt(c.Param("rev"), 10, 64)
	if err != nil {
		return apperr.Validation("revision must be an integer")
	}
	e, err := h.KV.GetRevision(c.Request().Context(), requestTenant(c), c.Param("bucket"), c.Param("key"), rev)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toEntryResponse(e))
}

func (h *Handlers) getKeyHistory(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return apperr.Validation("limit must be a non-negative integer")
		}
		limit = n
	}
	entries, err := h.KV.History(c.Request().Context(), requestTenant(c), c.Param("bucket"), c.Param("key"), limit)
	if err != nil {
		return err
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	return c.JSON(http.StatusOK, out)
}

type putKeyRequest struct {
	Value            string `json:"value"` // base64
	TTLSeconds       int64  `json:"ttlSeconds"`
	ExpectedRevision *int64 `json:"expectedRevision"`
}

func (h *Handlers) putKey(c echo.Context) error {
	var req putKeyRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("malformed request body")
	}
	value, err := base64.StdEncoding.DecodeString(req.Value)
	if err != nil {
		return apperr.Validation("value must be base64-encoded").FieldError("value", "invalid base64")
	}

	// expectedRevision in the body takes precedence; the query param is
	// used for CAS only when the body omits it.
	if req.ExpectedRevision == nil {
		if raw := c.QueryParam("expectedRevision"); raw != "" {
			rev, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return apperr.Validation("expectedRevision must be an integer")
			}
			req.ExpectedRevision = &rev
		}
	}

	e, err := h.KV.Put(c.Request().Context(), requestTenant(c), c.Param("bucket"), c.Param("key"), kv.PutParams{
		Value:            value,
		TTLSeconds:       req.TTLSeconds,
		ExpectedRevision: req.ExpectedRevision,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toEntryResponse(e))
}

func (h *Handlers) deleteKey(c echo.Context) error {
	e, err := h.KV.Delete(c.Request().Context(), requestTenant(c), c.Param("bucket"), c.Param("key"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toEntryResponse(e))
}

func (h *Handlers) purgeKey(c echo.Context) error {
	n, err := h.KV.PurgeKey(c.Request().Context(), requestTenant(c), c.Param("bucket"), c.Param("key"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, countResponse{Count: n})
}

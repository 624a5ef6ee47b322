// Package api wires HTTP routes to the KV and object engines: tenant
// extraction, request/response JSON shapes, CAS/range parsing, and
// apperr-to-HTTP mapping via the shared httpserver error handler.
package api

import (
	"github.com/labstack/echo/v4"

	"kvstore.dev/kvstore/internal/kv"
	"kvstore.dev/kvstore/internal/object"
	"kvstore.dev/kvstore/internal/watch"
)

// Handlers bundles the engines the route table dispatches to, mirroring
// the ambient stack's convention of a single struct of service handles
// passed into route registration.
type Handlers struct {
	KV      *kv.Engine
	Objects *object.Engine
	// Registry is seeded on every successful bucket create so the watch
	// dispatcher can resolve the new bucket's id on its first event.
	Registry *watch.Registry
}

// Register attaches every KV and object route to e.
func Register(e *echo.Echo, h *Handlers) {
	v1 := e.Group("/api/v1")

	kvGroup := v1.Group("/kv")
	kvGroup.POST("/buckets", h.createKVBucket)
	kvGroup.GET("/buckets", h.listKVBuckets)
	kvGroup.GET("/buckets/:bucket", h.getKVBucket)
	kvGroup.PUT("/buckets/:bucket", h.updateKVBucket)
	kvGroup.DELETE("/buckets/:bucket", h.deleteKVBucket)
	kvGroup.DELETE("/buckets/:bucket/purge", h.purgeKVBucket)

	kvGroup.GET("/buckets/:bucket/keys", h.listKeys)
	kvGroup.GET("/buckets/:bucket/keys/:key", h.getKey)
	kvGroup.GET("/buckets/:bucket/keys/:key/revision/:rev", h.getKeyRevision)
	kvGroup.GET("/buckets/:bucket/keys/:key/history", h.getKeyHistory)
	kvGroup.PUT("/buckets/:bucket/keys/:key", h.putKey)
	kvGroup.DELETE("/buckets/:bucket/keys/:key", h.deleteKey)
	kvGroup.DELETE("/buckets/:bucket/keys/:key/purge", h.purgeKey)

	objGroup := v1.Group("/objects")
	objGroup.POST("/buckets", h.createObjectBucket)
	objGroup.GET("/buckets", h.listObjectBuckets)
	objGroup.GET("/buckets/:bucket", h.getObjectBucket)
	objGroup.DELETE("/buckets/:bucket", h.deleteObjectBucket)

	objGroup.PUT("/buckets/:bucket/objects/:name", h.putObject)
	objGroup.GET("/buckets/:bucket/objects/:name", h.getObject)
	objGroup.GET("/buckets/:bucket/objects/:name/metadata", h.getObjectMetadata)
	objGroup.GET("/buckets/:bucket/objects/:name/verify", h.verifyObject)
	objGroup.DELETE("/buckets/:bucket/objects/:name", h.deleteObject)
}

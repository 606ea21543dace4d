// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the history engine over HTTP for the editor extension.
//
// # Routes
//
//	GET    /health
//	GET    /metrics
//	POST   /v1/history                          add (?resync=true keeps the cursor)
//	GET    /v1/history                          list (?node_id&input_id&limit)
//	DELETE /v1/history                          clear all
//	GET    /v1/history/field/:node/:input       one field (?order=oldest|newest)
//	DELETE /v1/history/field/:node/:input       clear one field
//	PATCH  /v1/history/field/:node/:input/:ts   patch an entry
//	PUT    /v1/history/field/:node/:input/:ts/type
//	POST   /v1/cursor/:node/:input/init|undo|redo
//	GET    /v1/cursor/:node/:input
//	GET    /v1/stats
//	GET    /v1/requests/:id
//	GET    /v1/export                           whole log, oldest-first
//	POST   /v1/assist/translate|expand          only with an assist service
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/edithistory/services/assist"
	"github.com/AleutianAI/edithistory/services/history"
	"github.com/AleutianAI/edithistory/services/telemetry"
)

// Deps are the services the routes call.
type Deps struct {
	Engine *history.Engine

	// Assist is optional; without it the /v1/assist routes are not registered.
	Assist *assist.Service

	// Metrics is optional OTel HTTP instrumentation.
	Metrics *telemetry.HTTPMetrics

	Logger *slog.Logger
}

// NewRouter builds a gin engine with recovery, tracing and every route.
func NewRouter(serviceName string, deps Deps) *gin.Engine {
	router := gin.New()
	// Node and input keys are opaque and may contain "/"; match on the
	// escaped path and unescape the params.
	router.UseRawPath = true
	router.UnescapePathValues = true
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}
	SetupRoutes(router, deps)
	return router
}

// SetupRoutes registers the API on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handlers{engine: deps.Engine, assist: deps.Assist, logger: deps.Logger}

	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := router.Group("/v1")
	{
		entries := v1.Group("/history")
		{
			entries.POST("", h.addEntry)
			entries.GET("", h.listEntries)
			entries.DELETE("", h.clearAll)
			entries.GET("/field/:node/:input", h.listField)
			entries.DELETE("/field/:node/:input", h.clearField)
			entries.PATCH("/field/:node/:input/:ts", h.patchEntry)
			entries.PUT("/field/:node/:input/:ts/type", h.retagEntry)
		}

		cursors := v1.Group("/cursor/:node/:input")
		{
			cursors.GET("", h.getCursor)
			cursors.POST("/init", h.initCursor)
			cursors.POST("/undo", h.undo)
			cursors.POST("/redo", h.redo)
		}

		v1.GET("/stats", h.stats)
		v1.GET("/requests/:id", h.byRequestID)
		v1.GET("/export", h.export)

		if deps.Assist != nil {
			assists := v1.Group("/assist")
			{
				assists.POST("/translate", h.translate)
				assists.POST("/expand", h.expand)
			}
		}
	}
}

// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Axion-inc/DesktopAgent/internal/metrics"
)

// MetricsHandler serves the rolling-counter snapshot at GET /metrics.
type MetricsHandler struct {
	recorder *metrics.Recorder
}

func NewMetricsHandler(recorder *metrics.Recorder) *MetricsHandler {
	return &MetricsHandler{recorder: recorder}
}

// GetSnapshot answers GET /metrics. ?window=<Go duration> defaults to
// 24h; ?top_k=<n> bounds the failure-cluster list, default 5.
func (h *MetricsHandler) GetSnapshot(c *gin.Context) {
	window := 24 * time.Hour
	if raw := c.Query("window"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			window = parsed
		}
	}
	topK := 5
	if raw := c.Query("top_k"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			topK = parsed
		}
	}
	c.JSON(http.StatusOK, h.recorder.Snapshot(time.Now(), window, topK))
}

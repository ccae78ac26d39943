// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/api/handlers"
	"github.com/Axion-inc/DesktopAgent/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMetricsHandler_GetSnapshot_DefaultsTo24h(t *testing.T) {
	rec := metrics.New()
	rec.RunCompleted(time.Now(), 100)
	rec.PolicyBlock(time.Now())

	h := handlers.NewMetricsHandler(rec)
	router := gin.New()
	router.GET("/metrics", h.GetSnapshot)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"TotalRuns":1`)
	assert.Contains(t, w.Body.String(), `"PolicyBlocks":1`)
}

func TestMetricsHandler_GetSnapshot_RespectsWindowQueryParam(t *testing.T) {
	rec := metrics.New()
	rec.RunCompleted(time.Now().Add(-48*time.Hour), 100)

	h := handlers.NewMetricsHandler(rec)
	router := gin.New()
	router.GET("/metrics", h.GetSnapshot)

	req := httptest.NewRequest(http.MethodGet, "/metrics?window=1h", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"TotalRuns":0`)
}

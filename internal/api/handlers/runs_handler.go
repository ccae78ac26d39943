// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Axion-inc/DesktopAgent/internal/store"
)

// RunsHandler serves the read-only run/policy-check/deviation facade
// (spec §4.G query contracts by run_id and public_id).
type RunsHandler struct {
	store *store.Store
}

func NewRunsHandler(st *store.Store) *RunsHandler {
	return &RunsHandler{store: st}
}

// GetByPublicID answers GET /runs/{public_id}. Variables are already
// mask-applied at write time, so this returns exactly what was
// persisted (store.Store.GetRunByPublicID's own doc comment).
func (h *RunsHandler) GetByPublicID(c *gin.Context) {
	run, err := h.store.GetRunByPublicID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *RunsHandler) parseRunID(c *gin.Context) (int64, bool) {
	runID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run_id"})
		return 0, false
	}
	return runID, true
}

// GetPolicyChecks answers GET /runs/{run_id}/policy-checks (spec §8 S2:
// "returns a domain check with allowed=false").
func (h *RunsHandler) GetPolicyChecks(c *gin.Context) {
	runID, ok := h.parseRunID(c)
	if !ok {
		return
	}
	checks, err := h.store.GetPolicyDecisions(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "checks": checks})
}

// GetDeviations answers GET /runs/{run_id}/deviations.
func (h *RunsHandler) GetDeviations(c *gin.Context) {
	runID, ok := h.parseRunID(c)
	if !ok {
		return
	}
	deviations, err := h.store.GetDeviations(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "deviations": deviations})
}

// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Axion-inc/DesktopAgent/internal/executor"
)

// HITLRequest is the POST /hitl/{run_id} body. A human_confirm wait is
// addressed by (run_id, step_index), and the approver's role claim
// travels in a bearer token so required_role can be checked against the
// approver's identity.
type HITLRequest struct {
	StepIndex int    `json:"step_index" binding:"min=0"`
	Decision  string `json:"decision" binding:"required,oneof=approve deny"`
	Token     string `json:"token" binding:"required"`
	Comment   string `json:"comment"`
}

// HITLHandler resolves a pending human_confirm wait.
type HITLHandler struct {
	broker *executor.ApprovalBroker
}

func NewHITLHandler(broker *executor.ApprovalBroker) *HITLHandler {
	return &HITLHandler{broker: broker}
}

func (h *HITLHandler) Resolve(c *gin.Context) {
	runID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run_id"})
		return
	}

	var req HITLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	approve := req.Decision == "approve"
	if err := h.broker.Resolve(runID, req.StepIndex, approve, req.Comment, req.Token); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded", "decision": req.Decision})
}

// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package l4monitor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/l4monitor"
)

func TestCompositeNotifier_NotifyDeviationStop_PostsWebhookPayload(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := l4monitor.NewCompositeNotifier(l4monitor.EmailConfig{}, l4monitor.WebhookConfig{URL: srv.URL})
	err := n.NotifyDeviationStop(context.Background(), 42, 3, 7.5)
	require.NoError(t, err)

	body := <-received
	assert.InDelta(t, 42, body["run_id"], 0.001)
	assert.InDelta(t, 3, body["step_index"], 0.001)
	assert.InDelta(t, 7.5, body["total_score"], 0.001)
}

func TestCompositeNotifier_NotifyDeviationStop_NoChannelsConfiguredIsANoop(t *testing.T) {
	n := l4monitor.NewCompositeNotifier(l4monitor.EmailConfig{}, l4monitor.WebhookConfig{})
	assert.NoError(t, n.NotifyDeviationStop(context.Background(), 1, 0, 1.0))
}

func TestCompositeNotifier_NotifyDeviationStop_WebhookErrorStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := l4monitor.NewCompositeNotifier(l4monitor.EmailConfig{}, l4monitor.WebhookConfig{URL: srv.URL})
	err := n.NotifyDeviationStop(context.Background(), 1, 0, 1.0)
	assert.Error(t, err)
}

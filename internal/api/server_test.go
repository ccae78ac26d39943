// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package api_test

import (
	"database/sql/driver"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/api"
	"github.com/Axion-inc/DesktopAgent/internal/common/config"
	"github.com/Axion-inc/DesktopAgent/internal/executor"
	"github.com/Axion-inc/DesktopAgent/internal/metrics"
	"github.com/Axion-inc/DesktopAgent/internal/store"
)

func TestServer_RoutesMetricsAndRuns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.OpenWithDB(db, "sqlite3")

	cfg := config.Default()
	srv := api.NewServer(cfg, st, metrics.New(), executor.NewApprovalBroker([]byte("k")))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	mock.ExpectQuery("FROM runs WHERE public_id = ?").
		WithArgs("pub-missing").
		WillReturnError(driver.ErrBadConn)
	req2 := httptest.NewRequest(http.MethodGet, "/runs/pub-missing", nil)
	w2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w2, req2)
	require.Equal(t, http.StatusNotFound, w2.Code)
}

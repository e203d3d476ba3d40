package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recovery-atlas/facility-etl/internal/config"
	"github.com/recovery-atlas/facility-etl/internal/model"
	"github.com/recovery-atlas/facility-etl/internal/normalize"
	"github.com/recovery-atlas/facility-etl/internal/sink"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	cfg = &config.Config{
		Pipeline: config.PipelineConfig{BatchSize: 100, Workers: 2},
		Source:   config.SourceConfig{PageSize: 100, TimeoutSecs: 5, RatePerSec: 5},
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := httptest.NewServer(newRouter(context.Background(), sink.NewMemory()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestImportEndpoint_RejectsBadRequests(t *testing.T) {
	srv := httptest.NewServer(newRouter(context.Background(), sink.NewMemory()))
	defer srv.Close()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"no source", "{}"},
		{"both sources", `{"location":"Reno, NV","path":"x.csv"}`},
		{"bad format", `{"path":"x.csv","format":"parquet"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/import", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestImportEndpoint_AcceptsAndReturnsRunID(t *testing.T) {
	mem := sink.NewMemory()
	srv := httptest.NewServer(newRouter(context.Background(), mem))
	defer srv.Close()

	body := `{"path":"/does/not/exist.csv","dry_run":true}`
	resp, err := http.Post(srv.URL+"/api/import", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.NotEmpty(t, accepted["run_id"])
}

func TestRunsEndpoint(t *testing.T) {
	mem := sink.NewMemory()
	run := model.NewRunContext("file:test.csv")
	require.NoError(t, mem.StartRun(context.Background(), run))

	srv := httptest.NewServer(newRouter(context.Background(), mem))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var runs []model.RunRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestBuildSource_Validation(t *testing.T) {
	importPath, importLocation, importFormat = "", "", ""
	_, _, err := buildSource()
	assert.Error(t, err)

	importPath, importLocation = "x.csv", "Reno, NV"
	_, _, err = buildSource()
	assert.Error(t, err)

	importPath, importLocation = "export.unknown", ""
	_, _, err = buildSource()
	assert.Error(t, err)

	importPath, importFormat = "export.dat", "csv"
	src, format, err := buildSource()
	require.NoError(t, err)
	assert.Equal(t, "file:export.dat", src.Name())
	assert.Equal(t, "csv", string(format))

	importPath, importFormat = "", ""
}

func TestBuildSource_APISource(t *testing.T) {
	importLocation = "Reno, NV"
	defer func() { importLocation = "" }()

	src, format, err := buildSource()
	require.NoError(t, err)
	assert.Equal(t, "api:Reno, NV", src.Name())
	assert.Equal(t, normalize.FormatAPI, format)
}

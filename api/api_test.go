package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/evfeatures/api"
	"github.com/TFMV/evfeatures/metrics"
	"github.com/TFMV/evfeatures/pkg/features"
)

const registrations = `County,City,Make,Model Year,Electric Vehicle Type,CAFV Eligibility
King,Seattle,TESLA,2020,BEV,Eligible
King,Seattle,NISSAN,2021,BEV,Eligible
Yakima,Yakima,TOYOTA,2019,PHEV,Eligible
Pierce,Tacoma,FORD,2022,PHEV,Unknown
`

func newServer() *api.Server {
	return api.NewServer(api.ServerOptions{
		Addr:     ":0",
		Features: features.DefaultOptions(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
}

func post(t *testing.T, s *api.Server, target, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "text/csv")
	resp, err := s.GetApp().Test(req, 5000)
	require.NoError(t, err)
	return resp
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TestHealthEndpoint checks if the /health endpoint returns "OK"
func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := newServer().GetApp().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
}

// versionResponse is used for JSON unmarshalling in the /version endpoint test
type versionResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Build   string `json:"build"`
	Time    string `json:"time"`
}

func TestVersionEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	resp, err := newServer().GetApp().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var v versionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, "EV Features API", v.Service)
	assert.NotEmpty(t, v.Version)
	assert.NotEmpty(t, v.Build)
	assert.NotEmpty(t, v.Time)
}

func TestDeriveEndpoint(t *testing.T) {
	resp := post(t, newServer(), "/derive", registrations)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "4", resp.Header.Get("X-Row-Count"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 5)

	header := strings.Split(lines[0], ",")
	assert.Equal(t, "County", header[0])
	assert.Contains(t, header, features.ColVehicleAge)
	assert.Contains(t, header, features.ColDominantManufacturer)
}

func TestDeriveEndpointCurrentYear(t *testing.T) {
	resp := post(t, newServer(), "/report?current_year=2030", registrations)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rep metrics.RunReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	assert.Equal(t, 2030, rep.Run.CurrentYear)
	assert.True(t, rep.Status.Passed)
	assert.True(t, rep.Invariants.Passed)
	assert.Equal(t, int64(4), rep.Table.NumRows)
}

func TestDeriveEndpointEmptyBody(t *testing.T) {
	resp := post(t, newServer(), "/derive", "  \n")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, "empty_body", e.Code)
}

func TestDeriveEndpointInvalidOptions(t *testing.T) {
	for _, target := range []string{"/derive?current_year=soon", "/derive?tie_break=random"} {
		resp := post(t, newServer(), target, registrations)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, target)
		resp.Body.Close()
	}
}

func TestDeriveEndpointFault(t *testing.T) {
	body := "County,Make,Model Year\nKing,TESLA,2020\n"
	resp := post(t, newServer(), "/derive", body)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var e errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, "missing_column", e.Code)
	assert.NotEmpty(t, e.Message)
}

func TestDeriveEndpointBadYear(t *testing.T) {
	body := strings.Replace(registrations, "2019", "n/a", 1)
	resp := post(t, newServer(), "/derive", body)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var e errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, "type_mismatch", e.Code)
}

func TestEndpointsHeaderOnlyBody(t *testing.T) {
	header := "County,City,Make,Model Year,Electric Vehicle Type,CAFV Eligibility\n"
	for _, target := range []string{"/derive", "/report"} {
		t.Run(target, func(t *testing.T) {
			resp := post(t, newServer(), target, header)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			var e errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.Equal(t, "empty_table", e.Code)
		})
	}
}

func TestShutdown(t *testing.T) {
	assert.NoError(t, newServer().Shutdown(context.Background()))
}

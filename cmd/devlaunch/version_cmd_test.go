package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devlaunch/internal/updatecheck"
)

func TestCheckForUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/"+updatecheck.DefaultRepo+"/releases/latest" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"tag_name":"v9.0.0","html_url":"https://example.test/v9.0.0"}`))
	}))
	defer srv.Close()

	prevURL, prevVersion := updateCheckURL, version
	t.Cleanup(func() { updateCheckURL, version = prevURL, prevVersion })
	updateCheckURL, version = srv.URL, "v0.1.0"

	update, note := checkForUpdate(context.Background())
	require.NotNil(t, update)
	assert.Empty(t, note)
	assert.True(t, update.UpdateAvailable)
	assert.Equal(t, "v9.0.0", update.LatestVersion)

	info := versionInfo{Version: version, Update: update}
	assert.Contains(t, info.String(), "Update available: v9.0.0")

	t.Setenv(updatecheck.EnvDisable, "true")
	update, note = checkForUpdate(context.Background())
	assert.Nil(t, update)
	assert.Equal(t, updatecheck.ErrDisabled.Error(), note)
}

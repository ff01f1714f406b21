package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReloader struct {
	frameworks    []string
	reloadedWith  []string
}

func (r *fakeReloader) Reload(frameworks []string) { r.reloadedWith = frameworks }
func (r *fakeReloader) Frameworks() []string        { return r.frameworks }

func TestPostAdminReload_ReloadsEveryLoadedFramework(t *testing.T) {
	reloader := &fakeReloader{frameworks: []string{"pytest", "selenium", "robot"}}
	h := NewAdminHandlers(discardSlogLogger(), reloader)
	c, w := newTestContext(http.MethodPost, "/admin/reload", nil)

	h.PostAdminReload(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []string{"pytest", "selenium", "robot"}, reloader.reloadedWith)

	var out struct {
		Reloaded []string `json:"reloaded"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.ElementsMatch(t, []string{"pytest", "selenium", "robot"}, out.Reloaded)
}

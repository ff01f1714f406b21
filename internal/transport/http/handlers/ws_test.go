package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDriftFeed_RespondsServiceUnavailableWhenFeedDisabled(t *testing.T) {
	h := NewDriftFeedHandlers(discardSlogLogger(), nil)
	c, w := newTestContext(http.MethodGet, "/ws/drift", nil)

	h.GetDriftFeed(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

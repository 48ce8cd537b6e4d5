package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.RegisterComponent("store", func() error { return nil })
	h := hc.CheckHealth()
	assert.Equal(t, Healthy, h.OverallStatus)
	assert.Equal(t, "success", CreateHealthResponse(h).Status)

	hc.RegisterOptional("redis", func() error { return errors.New("connection refused") })
	h = hc.CheckHealth()
	assert.Equal(t, Degraded, h.OverallStatus)
	require.Len(t, h.Components, 2)
	assert.Equal(t, "redis", h.Components[0].Name)
	assert.Equal(t, "connection refused", h.Components[0].Message)
	assert.Equal(t, "warning", CreateHealthResponse(h).Status)

	hc.RegisterComponent("store", func() error { return errors.New("disk full") })
	h = hc.CheckHealth()
	assert.Equal(t, Unhealthy, h.OverallStatus)
	assert.Equal(t, "error", CreateHealthResponse(h).Status)
	assert.Equal(t, "test", h.Version)
}

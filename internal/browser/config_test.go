package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfigDefaults(t *testing.T) {
	t.Setenv("PAGEPILOT_CONFIG_DIR", "/tmp/pp")
	r := ResolveConfig(Config{})

	assert.Equal(t, DriverCDP, r.Driver)
	assert.Equal(t, ModeCDP, r.Mode)
	assert.Equal(t, DefaultCDPPort, r.CDPPort)
	assert.True(t, r.CDPIsLoopback)
	assert.Equal(t, DefaultCommandTimeout, r.CommandTimeout)
	assert.Equal(t, DefaultIdleTimeout, r.IdleTimeout)
	assert.Equal(t, DefaultActionTimeout, r.ActionTimeout)
	assert.Equal(t, DefaultOverlayPause, r.OverlayPause)
	assert.Equal(t, DefaultBatchConcurrency, r.BatchConcurrency)
	assert.Equal(t, "/tmp/pp/browser/user-data", r.UserDataDir)
}

func TestResolveConfigNormalizes(t *testing.T) {
	r := ResolveConfig(Config{
		Driver:         "EXTENSION",
		Mode:           "Dom",
		CDPUrl:         "http://10.0.0.5:9333",
		CommandTimeout: time.Second,
		UserDataDir:    "/data",
	})
	assert.Equal(t, DriverExtension, r.Driver)
	assert.Equal(t, ModeDOM, r.Mode)
	assert.Equal(t, 9333, r.CDPPort)
	assert.False(t, r.CDPIsLoopback)
	assert.Equal(t, time.Second, r.CommandTimeout)
	assert.Equal(t, "/data", r.UserDataDir)

	unknown := ResolveConfig(Config{Driver: "selenium", Mode: "pixels"})
	assert.Equal(t, DriverCDP, unknown.Driver)
	assert.Equal(t, ModeCDP, unknown.Mode)
}

func TestPortFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want int
	}{
		{"http://127.0.0.1:9222", 9222},
		{"http://localhost", 80},
		{"https://browser.example", 443},
		{"ws://127.0.0.1:0", DefaultCDPPort},
		{"::not a url", DefaultCDPPort},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, portFromURL(tt.url))
		})
	}
}

func TestQuadToRect(t *testing.T) {
	r, err := quadToRect([]float64{10, 20, 60, 20, 60, 50, 10, 50})
	require.NoError(t, err)
	assert.Equal(t, Rect{X: 10, Y: 20, Width: 50, Height: 30}, *r)

	// Rotated quads yield their bounding box.
	r, err = quadToRect([]float64{5, 0, 10, 5, 5, 10, 0, 5})
	require.NoError(t, err)
	assert.Equal(t, Rect{X: 0, Y: 0, Width: 10, Height: 10}, *r)

	_, err = quadToRect([]float64{1, 2, 3})
	assert.Error(t, err)
}

func TestRectHelpers(t *testing.T) {
	r := Rect{X: 10, Y: 10, Width: 20, Height: 40}
	x, y := r.Center()
	assert.Equal(t, 20.0, x)
	assert.Equal(t, 30.0, y)
	assert.True(t, r.Contains(10, 50))
	assert.False(t, r.Contains(31, 20))
	assert.False(t, r.Empty())
	assert.True(t, Rect{Width: 5}.Empty())
	assert.Equal(t, Rect{X: 15, Y: 8, Width: 20, Height: 40}, r.Offset(5, -2))
}

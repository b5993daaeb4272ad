package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/parking-monitor/internal/occupancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, occupancy.DefaultParams(), cfg.Classifier)
	assert.Equal(t, ":5000", cfg.Web.Addr)
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDecodeOverridesOnlyGivenKeys(t *testing.T) {
	cfg, err := Decode(strings.NewReader(`
source: rtsp://camera.local/stream
spaces: lot.pkl
frame_interval: 100ms
classifier:
  threshold: 750
web:
  addr: ":8000"
  keepalive: 2s
`))
	require.NoError(t, err)

	assert.Equal(t, "rtsp://camera.local/stream", cfg.Source)
	assert.Equal(t, "lot.pkl", cfg.SpacesPath)
	assert.Equal(t, 100*time.Millisecond, cfg.FrameInterval)
	assert.Equal(t, 750, cfg.Classifier.Threshold)
	assert.Equal(t, 25, cfg.Classifier.BlockSize)
	assert.Equal(t, ":8000", cfg.Web.Addr)
	assert.Equal(t, 2*time.Second, cfg.Web.KeepAlive)
	assert.Equal(t, "Parking Monitor", cfg.Web.Title)
	assert.Equal(t, 80, cfg.JPEGQuality)
}

func TestDecodeRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "sauce: x\n",
		"even block":     "classifier:\n  block_size: 24\n",
		"quality":        "jpeg_quality: 0\n",
		"no spaces file": "spaces: \"\"\n",
		"not yaml":       "source: [\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parking.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_webrtc_clients: 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxClients)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

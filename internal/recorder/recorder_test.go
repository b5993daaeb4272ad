package recorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dj-oyu/parking-monitor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	r := NewRecorder(dir)

	assert.False(t, r.Wants())
	r.Publish(&types.EncodedFrame{Data: []byte("ignored")})

	require.NoError(t, r.Start())
	assert.True(t, r.Wants())
	assert.ErrorIs(t, r.Start(), ErrAlreadyRecording)

	frames := [][]byte{[]byte("\xff\xd8one\xff\xd9"), []byte("\xff\xd8two\xff\xd9"), []byte("\xff\xd8three\xff\xd9")}
	want := 0
	for i, data := range frames {
		r.Publish(&types.EncodedFrame{Data: data, FrameNum: uint64(i)})
		want += len(data)
	}

	require.NoError(t, r.Stop())
	status := r.Status()
	assert.False(t, status.Recording)
	assert.Equal(t, uint64(3), status.FrameCount)
	assert.Equal(t, uint64(want), status.BytesWritten)

	written, err := os.ReadFile(filepath.Join(dir, status.Filename))
	require.NoError(t, err)
	assert.Len(t, written, want)
	assert.Equal(t, ".mjpeg", filepath.Ext(status.Filename))

	assert.ErrorIs(t, r.Stop(), ErrNotRecording)
}

func TestCloseStopsActiveRecording(t *testing.T) {
	r := NewRecorder(t.TempDir())
	require.NoError(t, r.Start())
	require.NoError(t, r.Close())
	assert.False(t, r.IsRecording())
	require.NoError(t, r.Close())
}

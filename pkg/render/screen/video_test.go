package screen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFFmpegArgs(t *testing.T) {
	o := VideoOptions{Output: "out.mp4", Width: 640, Height: 360}.withDefaults()

	tests := []struct {
		name     string
		opts     VideoOptions
		goos     string
		vaapi    bool
		codec    string
		contains []string
		absent   []string
	}{
		{"linux software", o, "linux", false, "libx264", []string{"-preset", "yuv420p"}, []string{"-vaapi_device"}},
		{"linux vaapi", o, "linux", true, "h264_vaapi", []string{"-vaapi_device", "format=nv12,hwupload"}, []string{"yuv420p"}},
		{"darwin", o, "darwin", false, "h264_videotoolbox", []string{"-realtime", "yuv420p"}, []string{"-preset"}},
		{"forced software", VideoOptions{Output: "out.mp4", Width: 640, Height: 360, Software: true}.withDefaults(), "linux", true, "libx264", nil, []string{"-vaapi_device"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := ffmpegArgs(tt.opts, tt.goos, tt.vaapi)
			assert.Equal(t, "out.mp4", args[len(args)-1])
			assert.Contains(t, args, tt.codec)
			assert.Contains(t, args, "640x360")
			for _, s := range tt.contains {
				assert.Contains(t, args, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, args, s)
			}
			assert.NotContains(t, args, "flv")
		})
	}

	rtmp := ffmpegArgs(VideoOptions{Output: "rtmp://live/key", Width: 1, Height: 1}.withDefaults(), "linux", false)
	assert.Equal(t, []string{"-f", "flv", "rtmp://live/key"}, rtmp[len(rtmp)-3:])
}

func TestStartVideoValidates(t *testing.T) {
	_, err := StartVideo(VideoOptions{Width: 10, Height: 10})
	assert.Error(t, err)
	_, err = StartVideo(VideoOptions{Output: "x.mp4"})
	assert.Error(t, err)
}

// blockingWriter holds the first write until released.
type blockingWriter struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	frames int
	closed bool
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	w.once.Do(func() {
		close(w.started)
		<-w.release
	})
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames++
	return len(p), nil
}

func (w *blockingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestVideoRecorderDropsWhenBehind(t *testing.T) {
	w := &blockingWriter{started: make(chan struct{}), release: make(chan struct{})}
	v := newVideoRecorder(1, 1, nil, w)

	v.queue(make([]byte, 4))
	<-w.started
	for i := 0; i < 4; i++ {
		v.queue(make([]byte, 4))
	}
	close(w.release)
	require.NoError(t, v.Close())

	written, dropped := v.Stats()
	assert.Equal(t, int64(3), written)
	assert.Equal(t, int64(2), dropped)
	assert.Equal(t, 3, w.frames)
	assert.True(t, w.closed)

	v.queue(make([]byte, 4))
	_, dropped = v.Stats()
	assert.Equal(t, int64(2), dropped)
	assert.NoError(t, v.Close())
}

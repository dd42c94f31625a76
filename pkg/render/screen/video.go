package screen

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/sudorandom/geoanim/pkg/monitoring"
)

// VideoOptions configure an ffmpeg encode of the drawn frames.
type VideoOptions struct {
	// Output is a file path or an rtmp(s):// URL.
	Output        string
	Width, Height int
	FrameRate     int
	Bitrate       string
	MaxBitrate    string
	// Software forces libx264 even when hardware encoding is available.
	Software bool
	// Device is the VA-API render node used on Linux.
	Device string
	Debug  bool
}

func (o VideoOptions) withDefaults() VideoOptions {
	if o.FrameRate <= 0 {
		o.FrameRate = 30
	}
	if o.Bitrate == "" {
		o.Bitrate = "9000k"
	}
	if o.MaxBitrate == "" {
		o.MaxBitrate = "15000k"
	}
	if o.Device == "" {
		o.Device = "/dev/dri/renderD128"
	}
	return o
}

// videoCodec picks the encoder for goos. vaapi reports whether the VA-API
// device is usable.
func videoCodec(o VideoOptions, goos string, vaapi bool) (vcodec string, globalArgs, outputArgs []string) {
	if o.Software {
		return "libx264", nil, nil
	}
	switch goos {
	case "darwin":
		return "h264_videotoolbox", nil, []string{"-realtime", "true", "-q:v", "65", "-color_range", "1"}
	case "linux":
		if vaapi {
			return "h264_vaapi", []string{"-vaapi_device", o.Device}, []string{"-vf", "format=nv12,hwupload", "-color_range", "1"}
		}
	}
	return "libx264", nil, nil
}

func ffmpegArgs(o VideoOptions, goos string, vaapi bool) []string {
	vcodec, globalArgs, outputArgs := videoCodec(o, goos, vaapi)

	var args []string
	if o.Debug {
		args = append(args, "-loglevel", "debug")
	}
	args = append(args, "-y")
	args = append(args, globalArgs...)
	args = append(args,
		"-thread_queue_size", "1024",
		"-f", "rawvideo", "-pixel_format", "rgba", "-video_size", fmt.Sprintf("%dx%d", o.Width, o.Height),
		"-framerate", fmt.Sprint(o.FrameRate), "-i", "pipe:0",
		"-c:v", vcodec,
		"-b:v", o.Bitrate,
		"-maxrate", o.MaxBitrate,
		"-bufsize", "30000k",
		"-g", fmt.Sprint(2*o.FrameRate),
	)
	if vcodec != "h264_vaapi" {
		args = append(args, "-pix_fmt", "yuv420p")
	}
	if vcodec == "libx264" {
		args = append(args, "-preset", "veryfast", "-crf", "18", "-color_range", "1")
	}
	args = append(args, outputArgs...)
	if strings.HasPrefix(o.Output, "rtmp://") || strings.HasPrefix(o.Output, "rtmps://") || strings.HasSuffix(o.Output, ".flv") {
		args = append(args, "-f", "flv")
	}
	return append(args, o.Output)
}

func vaapiAvailable(device string) bool {
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// VideoRecorder pipes raw frames into ffmpeg. Frames arriving while the encoder
// is behind are dropped so drawing never blocks.
type VideoRecorder struct {
	width, height int
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	frames        chan []byte
	pool          sync.Pool
	done          chan struct{}
	closeOnce     sync.Once
	mu            sync.RWMutex
	closed        bool
	dropped       atomic.Int64
	written       atomic.Int64
}

// StartVideo launches ffmpeg. Call OnFrame for every drawn frame and Close when
// finished.
func StartVideo(o VideoOptions) (*VideoRecorder, error) {
	o = o.withDefaults()
	if o.Output == "" {
		return nil, errors.New("video output is required")
	}
	if o.Width <= 0 || o.Height <= 0 {
		return nil, fmt.Errorf("invalid video size %dx%d", o.Width, o.Height)
	}
	vaapi := runtime.GOOS == "linux" && !o.Software && vaapiAvailable(o.Device)
	cmd := exec.Command("ffmpeg", ffmpegArgs(o, runtime.GOOS, vaapi)...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	monitoring.Logf("[video] recording %dx%d@%d to %s", o.Width, o.Height, o.FrameRate, o.Output)
	return newVideoRecorder(o.Width, o.Height, cmd, stdin), nil
}

func newVideoRecorder(width, height int, cmd *exec.Cmd, w io.WriteCloser) *VideoRecorder {
	v := &VideoRecorder{
		width:  width,
		height: height,
		cmd:    cmd,
		stdin:  w,
		frames: make(chan []byte, 2),
		done:   make(chan struct{}),
	}
	size := width * height * 4
	v.pool.New = func() interface{} { return make([]byte, size) }
	go v.writeLoop()
	return v
}

func (v *VideoRecorder) writeLoop() {
	defer close(v.done)
	for buf := range v.frames {
		if _, err := v.stdin.Write(buf); err != nil {
			monitoring.Logf("[video] write failed: %v", err)
			v.pool.Put(buf)
			for b := range v.frames {
				v.pool.Put(b)
			}
			return
		}
		v.written.Add(1)
		v.pool.Put(buf)
	}
}

// OnFrame copies the frame and queues it for the encoder.
func (v *VideoRecorder) OnFrame(img *ebiten.Image) {
	b := img.Bounds()
	if b.Dx() != v.width || b.Dy() != v.height {
		v.dropped.Add(1)
		return
	}
	buf := v.pool.Get().([]byte)
	img.ReadPixels(buf)
	v.queue(buf)
}

func (v *VideoRecorder) queue(buf []byte) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		v.pool.Put(buf)
		return
	}
	select {
	case v.frames <- buf:
	default:
		v.dropped.Add(1)
		v.pool.Put(buf)
	}
}

// Stats returns the number of frames written and dropped.
func (v *VideoRecorder) Stats() (written, dropped int64) {
	return v.written.Load(), v.dropped.Load()
}

// Close flushes queued frames and waits for ffmpeg to exit.
func (v *VideoRecorder) Close() error {
	var err error
	v.closeOnce.Do(func() {
		v.mu.Lock()
		v.closed = true
		close(v.frames)
		v.mu.Unlock()
		<-v.done
		err = v.stdin.Close()
		if v.cmd != nil {
			if werr := v.cmd.Wait(); werr != nil && err == nil {
				err = fmt.Errorf("ffmpeg: %w", werr)
			}
		}
		written, dropped := v.Stats()
		monitoring.Logf("[video] closed after %d frames (%d dropped)", written, dropped)
	})
	return err
}

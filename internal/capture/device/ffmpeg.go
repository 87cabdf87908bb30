// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/voxsync/internal/capture"
	xglog "github.com/ManuGH/voxsync/internal/log"
	"github.com/ManuGH/voxsync/internal/procgroup"
)

const (
	// startupGrace is how long an input must stay alive before acquisition counts as successful.
	startupGrace = 300 * time.Millisecond
	stopGrace    = 3 * time.Second
	readBufSize  = 32 * 1024
	stderrLines  = 50
)

// FFmpeg captures from a platform input through an ffmpeg child process that
// encodes opus into a webm stream on stdout.
type FFmpeg struct {
	BinaryPath  string
	InputFormat string
	InputDevice string
	Logger      zerolog.Logger
}

func NewFFmpeg(binaryPath, inputFormat, inputDevice string) *FFmpeg {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = defaultInputFormat()
	}
	if inputDevice == "" {
		inputDevice = "default"
	}
	return &FFmpeg{
		BinaryPath:  binaryPath,
		InputFormat: inputFormat,
		InputDevice: inputDevice,
		Logger:      xglog.WithComponent("capture.ffmpeg"),
	}
}

func defaultInputFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "pulse"
	}
}

func (f *FFmpeg) Name() string { return "ffmpeg:" + f.InputFormat }

// buildArgs maps constraints onto ffmpeg flags. Echo cancellation is left to
// the platform input (pulse echo-cancel source, voice processing on darwin).
func (f *FFmpeg) buildArgs(c capture.Constraints) []string {
	rate := c.SampleRate
	if rate <= 0 {
		rate = capture.DefaultSampleRate
	}
	input := f.InputDevice
	if f.InputFormat == "avfoundation" && !strings.HasPrefix(input, ":") {
		input = ":" + input
	}
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-f", f.InputFormat,
		"-i", input,
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
	}
	if c.NoiseSuppression {
		args = append(args, "-af", "afftdn")
	}
	args = append(args,
		"-c:a", "libopus",
		"-application", "voip",
		"-f", "webm",
		"-flush_packets", "1",
		"pipe:1",
	)
	return args
}

func (f *FFmpeg) Acquire(ctx context.Context, c capture.Constraints, flush time.Duration) (capture.Stream, error) {
	cmd := exec.Command(f.BinaryPath, f.buildArgs(c)...)
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("exec start failed: %w", err)
	}

	s := &ffmpegStream{
		cmd:      cmd,
		logger:   f.Logger.With().Int("pid", cmd.Process.Pid).Logger(),
		chunks:   make(chan []byte, 4),
		errs:     make(chan error, 1),
		waitCh:   make(chan error, 1),
		readDone: make(chan struct{}),
		diag:     newTail(stderrLines),
	}
	go s.drainStderr(stderr)
	go s.read(stdout)
	go func() {
		<-s.readDone
		s.waitCh <- cmd.Wait()
	}()

	// an input that cannot be opened (missing device, permission denied)
	// makes ffmpeg exit immediately
	select {
	case <-s.readDone:
		_ = s.Release()
		return nil, fmt.Errorf("input %s:%s unavailable: %s", f.InputFormat, f.InputDevice, s.diag.String())
	case <-ctx.Done():
		_ = s.Release()
		return nil, ctx.Err()
	case <-time.After(startupGrace):
	}

	go s.flushLoop(flush)
	s.logger.Debug().Strs("args", cmd.Args).Msg("capture process started")
	return s, nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	logger zerolog.Logger

	chunks   chan []byte
	errs     chan error
	waitCh   chan error
	readDone chan struct{}

	mu      sync.Mutex
	pending bytes.Buffer
	readErr error

	released atomic.Bool
	once     sync.Once
	exitErr  error
	diag     *tail
}

func (s *ffmpegStream) Chunks() <-chan []byte { return s.chunks }
func (s *ffmpegStream) Errors() <-chan error  { return s.errs }

// Release terminates the process group; ffmpeg finalizes the container on
// SIGTERM and the remaining bytes are flushed before Chunks closes.
func (s *ffmpegStream) Release() error {
	s.once.Do(func() {
		s.released.Store(true)
		s.exitErr = procgroup.Terminate(s.cmd, s.waitCh, stopGrace)
		var exitErr *exec.ExitError
		if errors.As(s.exitErr, &exitErr) {
			// terminated on request
			s.exitErr = nil
		}
	})
	return s.exitErr
}

func (s *ffmpegStream) read(r io.Reader) {
	defer close(s.readDone)
	buf := make([]byte, readBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.pending.Write(buf[:n])
			s.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.mu.Lock()
				s.readErr = err
				s.mu.Unlock()
			}
			return
		}
	}
}

func (s *ffmpegStream) take() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending.Len() == 0 {
		return nil
	}
	out := bytes.Clone(s.pending.Bytes())
	s.pending.Reset()
	return out
}

func (s *ffmpegStream) flushLoop(flush time.Duration) {
	defer close(s.chunks)
	ticker := time.NewTicker(flush)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if chunk := s.take(); chunk != nil {
				s.chunks <- chunk
			}
		case <-s.readDone:
			if !s.released.Load() {
				s.mu.Lock()
				cause := s.readErr
				s.mu.Unlock()
				if cause == nil {
					cause = errors.New("capture process exited unexpectedly")
				}
				s.logger.Warn().Err(cause).Str("stderr", s.diag.String()).Msg("capture input lost")
				s.errs <- cause
				return
			}
			if chunk := s.take(); chunk != nil {
				s.chunks <- chunk
			}
			return
		}
	}
}

func (s *ffmpegStream) drainStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.diag.Add(sc.Text())
	}
}

// tail keeps the last lines of ffmpeg diagnostics.
type tail struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newTail(max int) *tail { return &tail{max: max} }

func (t *tail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "; ")
}

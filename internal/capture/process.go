package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/streamrelay/internal/logger"
	"github.com/bryanchriswhite/streamrelay/internal/source"
)

const stderrTailLines = 8

// decoderProcess is a subprocess writing tightly packed RGBA frames of a
// known size to stdout
type decoderProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	width  int
	height int
	tail   *stderrTail
	done   chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// startDecoder launches name with args and starts draining its stderr
func startDecoder(ctx context.Context, component, name string, args []string, width, height int, debug bool) (*decoderProcess, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	log := logger.WithComponent(component)

	cmd := exec.CommandContext(ctx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	log.Debug().Str("cmd", name).Strs("args", redactArgs(args)).Msg("Starting decoder subprocess")

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	p := &decoderProcess{
		cmd:    cmd,
		stdout: stdout,
		reader: bufio.NewReaderSize(stdout, width*height*4),
		width:  width,
		height: height,
		tail:   newStderrTail(stderrTailLines),
		done:   make(chan struct{}),
	}

	go p.logStderr(stderr, log, debug)

	log.Debug().Int("pid", cmd.Process.Pid).Int("width", width).Int("height", height).Msg("Decoder subprocess started")
	return p, nil
}

// readFrame reads exactly one frame
func (p *decoderProcess) readFrame() (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	if _, err := io.ReadFull(p.reader, img.Pix); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if last := p.tail.String(); last != "" {
				return nil, fmt.Errorf("%w: decoder exited: %s", ErrNoFrame, last)
			}
			return nil, fmt.Errorf("%w: decoder exited", ErrNoFrame)
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return img, nil
}

// logStderr forwards decoder diagnostics to the log. With debug enabled every
// line is logged, otherwise only warnings and errors.
func (p *decoderProcess) logStderr(stderr io.Reader, log *zerolog.Logger, debug bool) {
	defer close(p.done)

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		p.tail.add(line)

		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "error") || strings.Contains(lower, "warn"):
			log.Warn().Str("decoder", line).Msg("Decoder message")
		case debug:
			log.Debug().Str("decoder", line).Msg("Decoder output")
		}
	}
}

// stop kills the subprocess and reaps it. Later calls return the first result.
func (p *decoderProcess) stop() error {
	p.stopOnce.Do(func() {
		p.stopErr = p.kill()
	})
	return p.stopErr
}

func (p *decoderProcess) kill() error {
	var result *multierror.Error

	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			result = multierror.Append(result, fmt.Errorf("kill decoder: %w", err))
		}
	}

	if err := p.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			result = multierror.Append(result, fmt.Errorf("wait for decoder: %w", err))
		}
	}

	<-p.done
	return result.ErrorOrNil()
}

// stderrTail keeps the last few stderr lines for error messages
type stderrTail struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newStderrTail(max int) *stderrTail {
	return &stderrTail{max: max}
}

func (t *stderrTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

// String returns the most recent line
func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return ""
	}
	return t.lines[len(t.lines)-1]
}

// redactArgs masks credentials in URL arguments before they are logged
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = source.RedactLocator(a)
	}
	return out
}

// pipeHandle adapts a restartable decoder process to Handle
type pipeHandle struct {
	start func() (*decoderProcess, error)
	proc  *decoderProcess

	// pos counts frames consumed since the start of the source
	pos int
	// first retains frame 0 so a rewind right after the validation read can
	// replay it instead of reconnecting
	first  *image.RGBA
	replay *image.RGBA
}

func newPipeHandle(start func() (*decoderProcess, error)) (*pipeHandle, error) {
	proc, err := start()
	if err != nil {
		return nil, err
	}
	return &pipeHandle{start: start, proc: proc}, nil
}

// Read implements Handle
func (h *pipeHandle) Read() (*image.RGBA, error) {
	if h.replay != nil {
		img := h.replay
		h.replay = nil
		h.pos = 1
		return img, nil
	}

	img, err := h.proc.readFrame()
	if err != nil {
		return nil, err
	}
	if h.pos == 0 {
		h.first = img
	} else {
		h.first = nil
	}
	h.pos++
	return img, nil
}

// Rewind implements Handle
func (h *pipeHandle) Rewind() error {
	switch {
	case h.pos == 0:
		return nil
	case h.pos == 1 && h.first != nil:
		h.replay = h.first
		h.pos = 0
		return nil
	}

	if err := h.proc.stop(); err != nil {
		logger.WithComponent("capture").Debug().Err(err).Msg("Error stopping decoder for rewind")
	}
	proc, err := h.start()
	if err != nil {
		return fmt.Errorf("restart decoder: %w", err)
	}
	h.proc = proc
	h.pos = 0
	h.first, h.replay = nil, nil
	return nil
}

// Release implements Handle
func (h *pipeHandle) Release() error {
	h.first, h.replay = nil, nil
	return h.proc.stop()
}

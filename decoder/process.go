package decoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/bmp"

	"github.com/robertklofgren/andmon/codec"
)

const (
	inputQueueSize = 8
	stopTimeout    = 2 * time.Second
	stallCheck     = 250 * time.Millisecond
	stderrTailSize = 4
)

// A submitted chunk with no output after stallTimeout is reported as
// skipped so the caller's pending count cannot wedge.
var stallTimeout = 2 * time.Second

type packet struct {
	timestamp uint64
	payload   []byte
}

type inflight struct {
	timestamp uint64
	at        time.Time
}

// process is a VideoDecoder running one ffmpeg child. A writer goroutine
// feeds stdin from a bounded queue, a reader goroutine decodes BMP images
// from stdout and reaps the process, and a watchdog expires chunks that
// never produced output.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *stderrLog
	ivf    *ivfWriter
	sink   Sink
	log    *zap.Logger

	input  chan packet
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending []inflight

	closed atomic.Bool
	failed atomic.Bool
}

func startProcess(path string, args []string, family codec.Family, sink Sink, logger *zap.Logger) (*process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &process{
		sink:   sink,
		log:    logger,
		input:  make(chan packet, inputQueueSize),
		ctx:    ctx,
		cancel: cancel,
		stderr: &stderrLog{log: logger},
	}

	p.cmd = exec.CommandContext(ctx, path, args...)
	p.cmd.Stderr = p.stderr

	var err error
	if p.stdin, err = p.cmd.StdinPipe(); err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	if p.stdout, err = p.cmd.StdoutPipe(); err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	switch family {
	case codec.FamilyVP8:
		p.ivf = newIVFWriter(p.stdin, "VP80")
	case codec.FamilyVP9:
		p.ivf = newIVFWriter(p.stdin, "VP90")
	}

	if err := p.cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	p.log.Debug("decoder process started", zap.Int("pid", p.cmd.Process.Pid))

	p.wg.Add(3)
	go p.writeLoop()
	go p.readLoop()
	go p.watchdog()
	return p, nil
}

func (p *process) Decode(timestamp uint64, payload []byte, key bool) error {
	if p.closed.Load() || p.failed.Load() {
		return ErrClosed
	}

	p.mu.Lock()
	p.pending = append(p.pending, inflight{timestamp: timestamp, at: time.Now()})
	p.mu.Unlock()

	select {
	case p.input <- packet{timestamp: timestamp, payload: payload}:
		return nil
	default:
		p.mu.Lock()
		p.pending = p.pending[:len(p.pending)-1]
		p.mu.Unlock()
		return ErrQueueFull
	}
}

func (p *process) writeLoop() {
	defer p.wg.Done()
	defer p.stdin.Close()

	if p.ivf != nil {
		if err := p.ivf.writeHeader(); err != nil {
			p.fail(fmt.Errorf("write ivf header: %w", err))
			return
		}
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		case pkt := <-p.input:
			var err error
			if p.ivf != nil {
				err = p.ivf.writeFrame(pkt.payload)
			} else {
				_, err = p.stdin.Write(pkt.payload)
			}
			if err != nil {
				p.fail(fmt.Errorf("write chunk %d: %w", pkt.timestamp, err))
				return
			}
		}
	}
}

func (p *process) readLoop() {
	defer p.wg.Done()

	r := bufio.NewReaderSize(p.stdout, 1<<20)
	var readErr error
	for {
		img, err := bmp.Decode(r)
		if err != nil {
			readErr = err
			break
		}
		ts, ok := p.popPending()
		if !ok {
			p.log.Debug("decoder produced an unrequested frame")
		}
		p.sink.Output(NewFrame(img, ts, nil))
	}

	waitErr := p.cmd.Wait()
	if p.closed.Load() {
		return
	}
	if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
		readErr = nil
	}
	cause := errors.Join(readErr, waitErr, p.stderr.err())
	if cause == nil {
		cause = io.ErrUnexpectedEOF
	}
	p.fail(fmt.Errorf("decoder process exited: %w", cause))
}

func (p *process) watchdog() {
	defer p.wg.Done()

	ticker := time.NewTicker(stallCheck)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case now := <-ticker.C:
			for _, ts := range p.expirePending(now) {
				p.sink.Skipped(ts)
			}
		}
	}
}

func (p *process) popPending() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return 0, false
	}
	head := p.pending[0]
	p.pending = p.pending[1:]
	return head.timestamp, true
}

func (p *process) expirePending(now time.Time) []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []uint64
	for len(p.pending) > 0 && now.Sub(p.pending[0].at) > stallTimeout {
		expired = append(expired, p.pending[0].timestamp)
		p.pending = p.pending[1:]
	}
	return expired
}

func (p *process) fail(err error) {
	if p.closed.Load() || !p.failed.CompareAndSwap(false, true) {
		return
	}
	p.log.Warn("decoder failed", zap.Error(err))
	p.cancel()
	p.sink.Error(err)
}

// Close kills the process and waits for its goroutines. The sink receives
// nothing after Close returns.
func (p *process) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		p.log.Warn("decoder process did not stop in time")
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
	}
	return nil
}

// stderrLog logs ffmpeg's stderr line by line and keeps the last few lines
// for error reports.
type stderrLog struct {
	log *zap.Logger

	mu   sync.Mutex
	buf  []byte
	tail []string
}

func (s *stderrLog) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, b...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(s.buf[:i]))
		s.buf = s.buf[i+1:]
		if line == "" {
			continue
		}
		s.log.Debug("ffmpeg", zap.String("line", line))
		s.tail = append(s.tail, line)
		if len(s.tail) > stderrTailSize {
			s.tail = s.tail[1:]
		}
	}
	return len(b), nil
}

func (s *stderrLog) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tail) == 0 {
		return nil
	}
	return errors.New(strings.Join(s.tail, "; "))
}

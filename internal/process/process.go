// Package process runs the download tool as a child process, turning its stdout into a stream of lines.
package process

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

	"go.uber.org/zap"

	video_fetcher "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/async"
	sync_ "github.com/alanbriolat/video-fetcher/internal/sync"
)

const (
	// MaxLineSize bounds a single line of output; longer lines are skipped.
	MaxLineSize = 1024 * 1024

	lineBufSize = 64
)

type config struct {
	env []string
	dir string
}

type Option func(*config)

// WithEnv adds "KEY=value" entries to the child's environment, on top of the current process's environment.
func WithEnv(env ...string) Option {
	return func(c *config) {
		c.env = append(c.env, env...)
	}
}

// WithDir sets the child's working directory.
func WithDir(dir string) Option {
	return func(c *config) {
		c.dir = dir
	}
}

// A Process is a running child. Its stdout is delivered line by line on Lines(); its stderr is only logged.
//
// The child is killed if the context passed to Start is cancelled.
type Process struct {
	ctx    context.Context
	cmd    *exec.Cmd
	lines  chan string
	stdout <-chan error
	stderr <-chan error
	exited *sync_.Event
	log    *zap.SugaredLogger

	waitOnce sync.Once
	waitErr  error
}

// Start spawns path with args. Failing to create the output pipes is video_fetcher.ErrOutputCapture, failing to start
// the child is video_fetcher.ErrSpawnFailure; in both cases nothing was started.
func Start(ctx context.Context, path string, args []string, opts ...Option) (*Process, error) {
	var c config
	for _, opt := range opts {
		opt(&c)
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = c.dir
	if len(c.env) > 0 {
		cmd.Env = append(cmd.Environ(), c.env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout: %w", video_fetcher.ErrOutputCapture, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr: %w", video_fetcher.ErrOutputCapture, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v: %w", video_fetcher.ErrSpawnFailure, path, err)
	}

	p := &Process{
		ctx:    ctx,
		cmd:    cmd,
		lines:  make(chan string, lineBufSize),
		exited: sync_.NewEvent(),
		log:    zap.S().Named("process").With("pid", cmd.Process.Pid),
	}
	p.log.Debugw("started", "path", path, "args", args)
	// Killing the child doesn't end the streams if it left children of its own holding them open
	go func() {
		select {
		case <-ctx.Done():
			_ = stdout.Close()
			_ = stderr.Close()
		case <-p.exited.Wait():
		}
	}()
	p.stdout = async.Run(func() error {
		defer close(p.lines)
		return scanLines(stdout, func(line string) {
			p.log.Debugw("stdout", "line", line)
			p.lines <- line
		}, func(length int) {
			p.log.Warnf("skipped %d byte line on stdout", length)
		})
	})
	p.stderr = async.Run(func() error {
		return scanLines(stderr, func(line string) {
			p.log.Warnw("stderr", "line", line)
		}, func(length int) {
			p.log.Warnf("skipped %d byte line on stderr", length)
		})
	})
	return p, nil
}

// Lines is closed once stdout reaches EOF.
func (p *Process) Lines() <-chan string {
	return p.lines
}

// Wait discards any lines not yet received, then waits for the child to exit. A non-zero exit is
// video_fetcher.ErrProcessFailure wrapping an *video_fetcher.ExitStatusError. Wait may be called more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		for range p.lines {
		}
		stdoutErr := <-p.stdout
		stderrErr := <-p.stderr
		err := p.cmd.Wait()
		p.exited.Set()

		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			status := &video_fetcher.ExitStatusError{Code: exitErr.ExitCode(), Err: exitErr}
			if ctxErr := p.ctx.Err(); ctxErr != nil {
				p.waitErr = fmt.Errorf("%w: %w: %w", video_fetcher.ErrProcessFailure, status, ctxErr)
			} else {
				p.waitErr = fmt.Errorf("%w: %w", video_fetcher.ErrProcessFailure, status)
			}
		case err != nil && p.ctx.Err() != nil:
			// Interrupted, even though the child exited cleanly
			p.waitErr = fmt.Errorf("%w: %w", video_fetcher.ErrProcessFailure, err)
		case err != nil:
			p.waitErr = fmt.Errorf("%w: %w", video_fetcher.ErrOutputCapture, err)
		case stdoutErr != nil:
			p.waitErr = fmt.Errorf("%w: stdout: %w", video_fetcher.ErrOutputCapture, stdoutErr)
		case stderrErr != nil:
			p.waitErr = fmt.Errorf("%w: stderr: %w", video_fetcher.ErrOutputCapture, stderrErr)
		}
		p.log.Debugw("exited", "code", p.cmd.ProcessState.ExitCode(), "error", p.waitErr)
	})
	return p.waitErr
}

// Output runs path with args to completion, returning everything it wrote to stdout.
func Output(ctx context.Context, path string, args []string, opts ...Option) (string, error) {
	p, err := Start(ctx, path, args, opts...)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for line := range p.Lines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), p.Wait()
}

// scanLines calls f for each line of r. Progress output may use "\r" instead of "\n", so either ends a line. Lines
// longer than MaxLineSize are passed to skipped instead. After an error the rest of r is discarded, so the child never
// blocks on a full pipe.
func scanLines(r io.Reader, f func(string), skipped func(length int)) error {
	var splitter lineSplitter
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	scanner.Split(splitter.split)
	for scanner.Scan() {
		if n := splitter.takeSkipped(); n > 0 && skipped != nil {
			skipped(n)
		}
		f(scanner.Text())
	}
	if n := splitter.takeSkipped(); n > 0 && skipped != nil {
		skipped(n)
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// lineSplitter is a bufio.SplitFunc that drops over-long lines instead of failing.
type lineSplitter struct {
	// Bytes dropped so far from the over-long line being skipped
	skipping int
	// Length of the last skipped line, until reported
	skipped int
}

func (s *lineSplitter) split(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if s.skipping > 0 {
		advance, token, err = splitLines(data, atEOF)
		switch {
		case advance > 0:
			s.skipped = s.skipping + len(token)
			s.skipping = 0
			return advance, nil, nil
		case atEOF && len(data) == 0:
			s.skipped = s.skipping
			s.skipping = 0
			return 0, nil, nil
		case bytes.IndexAny(data, "\r\n") >= 0:
			// Trailing "\r", wait to see if "\n" follows
			return 0, nil, nil
		default:
			s.skipping += len(data)
			return len(data), nil, nil
		}
	}
	advance, token, err = splitLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= MaxLineSize {
		s.skipping = len(data)
		return len(data), nil, nil
	}
	return advance, token, err
}

func (s *lineSplitter) takeSkipped() int {
	n := s.skipped
	s.skipped = 0
	return n
}

func splitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		// "\r\n" is a single line ending
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		} else if data[i] == '\r' && i+1 == len(data) && !atEOF {
			// Need more data to know if "\n" follows
			return 0, nil, nil
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

package archive

import (
	"compress/gzip"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
)

func pigzAvailable() bool {
	_, err := exec.LookPath("pigz")
	return err == nil
}

// newCompressor returns a gzip stream over w, using pigz when requested and
// installed and falling back to compress/gzip otherwise.
func newCompressor(w io.Writer, opts Options) (io.WriteCloser, error) {
	level := opts.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	if opts.Pigz && pigzAvailable() {
		return NewPigzWriter(w, level, 0)
	}
	zw, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, fmt.Errorf("invalid gzip level %d: %w", level, err)
	}
	return zw, nil
}

// PigzWriter pipes everything written to it through a pigz child process.
type PigzWriter struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan error
}

// NewPigzWriter starts pigz writing compressed output to w. A level outside
// 1..9 selects pigz's default; threads <= 0 uses every CPU.
func NewPigzWriter(w io.Writer, level int, threads int) (*PigzWriter, error) {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	args := []string{"-c", "-p", strconv.Itoa(threads)}
	if level >= 1 && level <= 9 {
		args = append(args, "-"+strconv.Itoa(level))
	}
	cmd := exec.Command("pigz", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	cmd.Stdout = w

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to start pigz: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	return &PigzWriter{cmd: cmd, stdin: stdin, done: done}, nil
}

func (p *PigzWriter) Write(data []byte) (int, error) {
	return p.stdin.Write(data)
}

// Close flushes pigz and waits for it to exit.
func (p *PigzWriter) Close() error {
	if err := p.stdin.Close(); err != nil {
		return err
	}
	if err := <-p.done; err != nil {
		return fmt.Errorf("pigz failed: %w", err)
	}
	return nil
}

package audio

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DeviceError wraps audio input failures: a missing capture binary, a
// device that cannot be opened, or a read failure mid-stream.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Device is a source of mono PCM-16 audio. ReadChunk blocks until buf is
// filled or the device fails; Close unblocks any in-flight read. Devices
// are used by a single goroutine at a time, except Close which may be
// called concurrently.
type Device interface {
	Start() error
	ReadChunk(buf []int16) error
	Close() error
}

// CommandDevice reads raw PCM-16 from the stdout of an external capture
// command, e.g. "arecord -q -f S16_LE -r 16000 -c 1 -t raw -".
type CommandDevice struct {
	command string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	closed bool
}

// NewCommandDevice creates a device around the given shell-less command
// line. The first field is the binary, the rest are arguments.
func NewCommandDevice(command string) *CommandDevice {
	return &CommandDevice{command: command}
}

// Start launches the capture command.
func (d *CommandDevice) Start() error {
	fields := strings.Fields(d.command)
	if len(fields) == 0 {
		return &DeviceError{Op: "start", Err: fmt.Errorf("empty capture command")}
	}

	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Stderr = io.Discard

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &DeviceError{Op: "start", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &DeviceError{Op: "start", Err: err}
	}

	d.mu.Lock()
	d.cmd = cmd
	d.stdout = stdout
	d.mu.Unlock()

	return nil
}

// ReadChunk fills buf with the next samples from the capture process.
func (d *CommandDevice) ReadChunk(buf []int16) error {
	d.mu.Lock()
	stdout := d.stdout
	d.mu.Unlock()

	if stdout == nil {
		return &DeviceError{Op: "read", Err: fmt.Errorf("device not started")}
	}

	raw := make([]byte, len(buf)*2)
	if _, err := io.ReadFull(stdout, raw); err != nil {
		return &DeviceError{Op: "read", Err: err}
	}

	samples, err := BytesToSamples(raw)
	if err != nil {
		return &DeviceError{Op: "read", Err: err}
	}

	copy(buf, samples)
	return nil
}

// Close terminates the capture process, unblocking any pending read.
func (d *CommandDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if d.stdout != nil {
		d.stdout.Close()
	}
	if d.cmd != nil && d.cmd.Process != nil {
		d.cmd.Process.Kill()
		d.cmd.Wait()
	}

	return nil
}

// WAVFileDevice replays a WAV file at real chunk cadence. Used for demos
// and manual testing without a microphone; the stream ends with io.EOF
// once the file is exhausted.
type WAVFileDevice struct {
	path     string
	interval time.Duration

	mu      sync.Mutex
	samples []int16
	pos     int
	closed  chan struct{}
}

// NewWAVFileDevice creates a replay device. interval is the wall-clock
// pacing between chunks; zero disables pacing.
func NewWAVFileDevice(path string, interval time.Duration) *WAVFileDevice {
	return &WAVFileDevice{
		path:     path,
		interval: interval,
		closed:   make(chan struct{}),
	}
}

// Start loads and decodes the WAV file.
func (d *WAVFileDevice) Start() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return &DeviceError{Op: "start", Err: err}
	}

	samples, _, err := DecodeWAV(data)
	if err != nil {
		return &DeviceError{Op: "start", Err: err}
	}

	d.mu.Lock()
	d.samples = samples
	d.pos = 0
	d.mu.Unlock()

	return nil
}

// ReadChunk returns the next chunk of the file, padding the final partial
// chunk with silence. io.EOF marks the end of the stream.
func (d *WAVFileDevice) ReadChunk(buf []int16) error {
	if d.interval > 0 {
		select {
		case <-time.After(d.interval):
		case <-d.closed:
			return &DeviceError{Op: "read", Err: io.EOF}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.closed:
		return &DeviceError{Op: "read", Err: io.EOF}
	default:
	}

	if d.pos >= len(d.samples) {
		return &DeviceError{Op: "read", Err: io.EOF}
	}

	n := copy(buf, d.samples[d.pos:])
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	d.pos += n

	return nil
}

// Close stops the replay.
func (d *WAVFileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.closed:
	default:
		close(d.closed)
	}

	return nil
}

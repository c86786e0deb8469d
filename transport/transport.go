// Package transport provides the two bidirectional byte channels a pod can
// be reached over: stdio stream transport and socket transport with a
// port-file rendezvous. Both implement Channel, so the supervisor and
// dispatch engine above them never need to know which one is in use.
package transport

import (
	"bufio"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/judepayne/go-pods/errs"
)

// Channel is a bidirectional byte channel carrying envelope values between
// host and pod. Close tears down the channel without touching the child
// process itself; the supervisor owns process lifecycle.
type Channel interface {
	Reader() *bufio.Reader
	Writer() io.Writer
	Close() error
}

// StreamChannel wires a pod's stdin/stdout pipes directly as the transport.
type StreamChannel struct {
	r    *bufio.Reader
	w    io.WriteCloser
	stdout io.ReadCloser
}

// NewStreamChannel wraps a spawned process's stdout (read side, the pod's
// replies) and stdin (write side, the host's invokes).
func NewStreamChannel(stdout io.ReadCloser, stdin io.WriteCloser) *StreamChannel {
	return &StreamChannel{
		r:      bufio.NewReader(stdout),
		w:      stdin,
		stdout: stdout,
	}
}

func (c *StreamChannel) Reader() *bufio.Reader { return c.r }
func (c *StreamChannel) Writer() io.Writer     { return c.w }

func (c *StreamChannel) Close() error {
	werr := c.w.Close()
	rerr := c.stdout.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// SocketChannel dials a pod-opened TCP listener on localhost, found by
// polling a port-rendezvous file the pod writes at startup.
type SocketChannel struct {
	conn net.Conn
	r    *bufio.Reader
}

const (
	// PortFilePollInterval is how often the host checks for the rendezvous
	// file to appear.
	PortFilePollInterval = 50 * time.Millisecond
	// HandshakeTimeout is how long the host waits for the rendezvous file
	// and port before giving up with a PodHandshake error.
	HandshakeTimeout = 10 * time.Second
)

// PortFilePath returns the rendezvous file path for a pod process with the
// given pid, in dir (normally the host's working directory).
func PortFilePath(dir string, pid int) string {
	return filepath.Join(dir, ".babashka-pod-"+strconv.Itoa(pid)+".port")
}

// DialSocket polls portFile until it contains a port number, then dials
// localhost on that port. It returns a PodHandshake error on timeout or
// malformed file content.
func DialSocket(podID, portFile string, timeout time.Duration) (*SocketChannel, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		port, err := readPortFile(portFile)
		if err == nil {
			conn, dialErr := net.DialTimeout("tcp", "localhost:"+strconv.Itoa(port), 2*time.Second)
			if dialErr == nil {
				return &SocketChannel{conn: conn, r: bufio.NewReader(conn)}, nil
			}
			lastErr = dialErr
		} else {
			lastErr = err
		}
		time.Sleep(PortFilePollInterval)
	}
	return nil, errs.ForPod(errs.PodHandshake, podID, lastErr, "port file %s did not yield a dialable port within %s", portFile, timeout)
}

func readPortFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, os.ErrNotExist
	}
	return strconv.Atoi(s)
}

func (c *SocketChannel) Reader() *bufio.Reader { return c.r }
func (c *SocketChannel) Writer() io.Writer     { return c.conn }
func (c *SocketChannel) Close() error          { return c.conn.Close() }

// RemovePortFile removes the rendezvous file at path, ignoring any error.
// Pod.Shutdown and Host.UnloadPod do not call it, so a port file the pod
// leaves behind stays in place after unload.
func RemovePortFile(path string) {
	os.Remove(path)
}

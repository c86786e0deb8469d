package transport

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/judepayne/go-pods/errs"
)

func TestDialSocketSucceedsOncePortFileAppears(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	dir := t.TempDir()
	portFile := filepath.Join(dir, ".babashka-pod-1234.port")

	go func() {
		time.Sleep(100 * time.Millisecond)
		os.WriteFile(portFile, []byte(strconv.Itoa(port)+"\n"), 0o600)
	}()

	ch, err := DialSocket("test-pod", portFile, 2*time.Second)
	if err != nil {
		t.Fatalf("DialSocket: %v", err)
	}
	defer ch.Close()
}

func TestDialSocketTimesOutWithPodHandshakeError(t *testing.T) {
	dir := t.TempDir()
	portFile := filepath.Join(dir, ".babashka-pod-9999.port")

	_, err := DialSocket("test-pod", portFile, 150*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errs.Is(err, errs.PodHandshake) {
		t.Errorf("got %v, want PodHandshake", err)
	}
}

func TestPortFilePath(t *testing.T) {
	got := PortFilePath("/tmp/work", 42)
	want := "/tmp/work/.babashka-pod-42.port"
	if got != want {
		t.Errorf("PortFilePath = %q, want %q", got, want)
	}
}

package supervisor

import (
	"bufio"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSpawnSetsBabashkaPodEnv(t *testing.T) {
	p, err := Spawn(context.Background(), "pod-1", SpawnOpts{
		Argv: []string{"sh", "-c", "echo $BABASHKA_POD $BABASHKA_POD_TRANSPORT; cat >/dev/null"},
		Dir:  t.TempDir(),
		Socket: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Shutdown(context.Background(), nil)

	scanner := bufio.NewScanner(p.Stdout())
	if !scanner.Scan() {
		t.Fatal("expected a line of output")
	}
	line := scanner.Text()
	if !strings.Contains(line, "true") || !strings.Contains(line, "socket") {
		t.Errorf("child saw env %q, want BABASHKA_POD=true and BABASHKA_POD_TRANSPORT=socket", line)
	}
}

func TestShutdownGracefulExit(t *testing.T) {
	p, err := Spawn(context.Background(), "pod-2", SpawnOpts{
		Argv: []string{"sh", "-c", "cat >/dev/null"},
		Dir:  t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Shutdown(context.Background(), nil); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestStderrIsDrainedToSink(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	p, err := Spawn(context.Background(), "pod-3", SpawnOpts{
		Argv: []string{"sh", "-c", "echo oops >&2; cat >/dev/null"},
		Dir:  t.TempDir(),
		StderrSink: func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Shutdown(context.Background(), nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := len(lines) > 0
		mu.Unlock()
		if got {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 1 || lines[0] != "oops" {
		t.Errorf("lines = %v, want [oops]", lines)
	}
}

func TestOnUnexpectedExitFiresWhenProcessDiesOnItsOwn(t *testing.T) {
	done := make(chan error, 1)
	p, err := Spawn(context.Background(), "pod-4", SpawnOpts{
		Argv: []string{"sh", "-c", "exit 1"},
		Dir:  t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	p.OnUnexpectedExit(func(err error) { done <- err })

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected a non-nil exit error for `exit 1`")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnUnexpectedExit never fired")
	}
}

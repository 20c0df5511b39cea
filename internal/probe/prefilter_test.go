package probe

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/jthatch/proxy-verify/internal/candidate"
)

func TestFastConnectFilter(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	_, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	// Second listener closed immediately to get a dead port
	deadListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, deadPortStr, _ := net.SplitHostPort(deadListener.Addr().String())
	deadPort, _ := strconv.Atoi(deadPortStr)
	deadListener.Close()

	alive := candidate.Candidate{Host: "127.0.0.1", Port: port}
	dead := candidate.Candidate{Host: "127.0.0.1", Port: deadPort}

	passed, failed := FastConnectFilter(context.Background(),
		[]candidate.Candidate{dead, alive}, 500*time.Millisecond, 4)

	if len(passed) != 1 || passed[0].Addr() != alive.Addr() {
		t.Errorf("passed = %v, want only %s", passed, alive.Addr())
	}
	if len(failed) != 1 {
		t.Fatalf("failed outcomes = %d, want 1", len(failed))
	}
	if failed[0].Candidate.Addr() != dead.Addr() {
		t.Errorf("failed candidate = %s, want %s", failed[0].Candidate.Addr(), dead.Addr())
	}
	if failed[0].Kind != KindConnectionError {
		t.Errorf("failed kind = %s, want %s", failed[0].Kind, KindConnectionError)
	}
	if failed[0].Succeeded {
		t.Error("failed outcome marked succeeded")
	}
}

func TestFastConnectFilterEmptyInput(t *testing.T) {
	passed, failed := FastConnectFilter(context.Background(), nil, time.Second, 4)
	if len(passed) != 0 || len(failed) != 0 {
		t.Errorf("got %d passed, %d failed for empty input", len(passed), len(failed))
	}
}

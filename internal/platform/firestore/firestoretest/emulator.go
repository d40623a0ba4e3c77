// Package firestoretest starts a disposable Firestore emulator for integration tests.
package firestoretest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/spiritcandles/fulfillment/internal/platform/config"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

// StartEmulator runs the emulator in docker and returns a config pointing at it. The test is
// skipped when docker is unavailable. The container is stopped during cleanup.
func StartEmulator(t *testing.T, projectID string) config.FirestoreConfig {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	port := freePort(t)
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if len(id) > 12 {
		id = id[:12]
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
	})

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	waitForEndpoint(t, endpoint, 30*time.Second)
	return config.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	lastErr := errors.New("timeout waiting for endpoint")
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}

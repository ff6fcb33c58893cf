//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const repoRootRel = ".." // relative to ./e2e

const mqttPort = nat.Port("1883/tcp")

func TestSmoke_DriverHostAndArchiver(t *testing.T) {
	repoRoot := repoRootPath(t)
	host, port := startMosquitto(t)

	driverhost := buildBinary(t, repoRoot, "./cmd/driverhost")
	archiver := buildBinary(t, repoRoot, "./cmd/archiver")
	metricsAddr := pickFreeAddr(t)
	archiveAddr := pickFreeAddr(t)

	broker := []string{
		"APP_ENV=dev",
		"LOG_LEVEL=info",
		"MQTT_BROKER=" + host,
		"MQTT_PORT=" + port,
	}

	arch := startProcess(t, archiver, append(broker,
		"HTTP_ADDR="+archiveAddr,
		"DB_DRIVER=sqlite3",
		"SQLITE_PATH="+filepath.Join(t.TempDir(), "archive.db"),
	)...)
	client := &http.Client{Timeout: 2 * time.Second}
	waitForOK(t, client, "http://"+archiveAddr+"/healthz", 10*time.Second)

	telemetry := make(chan map[string][2]float64, 16)
	replies := make(chan string, 4)
	observer := connectObserver(t, host, port)
	subscribe(t, observer, "surfacecoils/1/telemetry", func(b []byte) {
		var snap map[string][2]float64
		if err := json.Unmarshal(b, &snap); err == nil {
			select {
			case telemetry <- snap:
			default:
			}
		}
	})
	subscribe(t, observer, "surfacecoils/1/setpoints/reply", func(b []byte) {
		replies <- string(b)
	})

	dh := startProcess(t, driverhost, append(broker,
		"HARDWARE=mock",
		"POLL_PERIOD=200ms",
		"COMMAND_TIMEOUT=50ms",
		"METRICS_ADDR="+metricsAddr,
	)...)
	waitForOK(t, client, "http://"+metricsAddr+"/healthz", 10*time.Second)

	snap := nextSnapshot(t, telemetry)
	if len(snap) != 8 {
		t.Fatalf("snapshot has %d channels, want 8: %v", len(snap), snap)
	}

	tok := observer.Publish("surfacecoils/1/setpoints", 1, false, `{"111": 1.5}`)
	if !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		t.Fatalf("publish setpoint: %v", tok.Error())
	}
	select {
	case r := <-replies:
		if !strings.Contains(r, `"applied"`) || !strings.Contains(r, `"111"`) {
			t.Fatalf("reply = %s", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no setpoint reply")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		snap = nextSnapshot(t, telemetry)
		if snap["111"][0] == 1.5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("setpoint not visible in telemetry: %v", snap)
		}
	}

	metrics := getBody(t, client, "http://"+metricsAddr+"/metrics")
	if !strings.Contains(metrics, "fielddaq_telemetry_cycles_total") {
		t.Fatalf("metrics missing cycle counter")
	}

	waitFor(t, 10*time.Second, func() bool {
		var readings []map[string]any
		body := getBody(t, client, "http://"+archiveAddr+"/api/channels/111/latest?limit=1")
		return json.Unmarshal([]byte(body), &readings) == nil && len(readings) == 1
	})

	stopProcess(t, dh)
	stopProcess(t, arch)
}

func startMosquitto(t *testing.T) (host, port string) {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		ExposedPorts: []string{string(mqttPort)},
		WaitingFor:   wait.ForListeningPort(mqttPort).WithStartupTimeout(30 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mosquitto container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err = c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, mqttPort)
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return host, mapped.Port()
}

func connectObserver(t *testing.T, host, port string) mqtt.Client {
	t.Helper()
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%s", host, port)).
		SetClientID("e2e-observer").
		SetCleanSession(true)
	c := mqtt.NewClient(opts)
	if tok := c.Connect(); !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		t.Fatalf("observer connect: %v", tok.Error())
	}
	t.Cleanup(func() { c.Disconnect(250) })
	return c
}

func subscribe(t *testing.T, c mqtt.Client, topic string, fn func([]byte)) {
	t.Helper()
	tok := c.Subscribe(topic, 1, func(_ mqtt.Client, m mqtt.Message) { fn(m.Payload()) })
	if !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		t.Fatalf("subscribe %s: %v", topic, tok.Error())
	}
}

func nextSnapshot(t *testing.T, ch <-chan map[string][2]float64) map[string][2]float64 {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no telemetry received")
		return nil
	}
}

func repoRootPath(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	repo := filepath.Clean(filepath.Join(wd, repoRootRel))
	if _, err := os.Stat(filepath.Join(repo, "go.mod")); err != nil {
		t.Fatalf("repo root %q does not contain go.mod: %v", repo, err)
	}
	return repo
}

func buildBinary(t *testing.T, repoRoot, pkg string) string {
	t.Helper()

	out := filepath.Join(t.TempDir(), filepath.Base(pkg))
	build := exec.Command("go", "build", "-o", out, pkg)
	build.Dir = repoRoot
	build.Env = os.Environ()

	b, err := build.CombinedOutput()
	if err != nil {
		t.Fatalf("go build %s failed: %v\n%s", pkg, err, string(b))
	}
	return out
}

func startProcess(t *testing.T, bin string, env ...string) *exec.Cmd {
	t.Helper()

	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start %s: %v", bin, err)
	}
	t.Cleanup(func() {
		if cmd.ProcessState == nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
		}
	})
	return cmd
}

func pickFreeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen :0: %v", err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

func getBody(t *testing.T, client *http.Client, url string) string {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return string(b)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("condition not met after %s", timeout)
}

func waitForOK(t *testing.T, client *http.Client, url string, timeout time.Duration) {
	t.Helper()
	waitFor(t, timeout, func() bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})
}

func stopProcess(t *testing.T, cmd *exec.Cmd) {
	t.Helper()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		t.Fatalf("%s did not exit in time", cmd.Path)
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				t.Fatalf("%s exited non-zero: %v", cmd.Path, err)
			}
			t.Fatalf("%s wait error: %v", cmd.Path, err)
		}
	}
}

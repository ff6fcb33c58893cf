package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/g2-field-team/field-daq/internal/config"
	"github.com/g2-field-team/field-daq/internal/faults"
	"github.com/g2-field-team/field-daq/internal/hardware"
	"github.com/g2-field-team/field-daq/internal/protocol"
	"github.com/g2-field-team/field-daq/internal/setpoint"
	"github.com/g2-field-team/field-daq/internal/topology"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// closedPort returns a local port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

func driverHostConfig(t *testing.T) config.Config {
	t.Helper()
	topo, err := topology.New(1, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	return config.Config{
		MQTT:            config.MQTT{Broker: "127.0.0.1", Port: closedPort(t), ClientID: "test-driverhost"},
		Topics:          config.DefaultTopics(1),
		PollPeriod:      100 * time.Millisecond,
		CommandMode:     setpoint.ModeReply,
		TelemetryFormat: protocol.FormatJSON,
		Hardware:        config.HardwareMock,
		AlarmThreshold:  3,
		Topology:        topo,
	}
}

func TestNewHardware(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"mock", config.Config{Hardware: config.HardwareMock}, false},
		{"sim", config.Config{Hardware: config.HardwareSim}, false},
		{"exec", config.Config{Hardware: config.HardwareExec, Exec: hardware.ExecConfig{
			ReadCurrentCmd: "coilctl read-current {card} {channel}",
			ReadTempCmd:    "coilctl read-temp {card} {channel}",
			SetCurrentCmd:  "coilctl set {card} {channel} {value}",
		}}, false},
		{"exec missing commands", config.Config{Hardware: config.HardwareExec}, true},
		{"unknown", config.Config{Hardware: "fpga"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hw, err := newHardware(tt.cfg, quiet)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newHardware: %v", err)
			}
			if hw == nil {
				t.Fatal("nil adapter")
			}
		})
	}
}

func TestNewHardware_MockReadsBack(t *testing.T) {
	hw, err := newHardware(config.Config{Hardware: config.HardwareMock}, quiet)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := hw.SelectCard(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := hw.SetCurrent(ctx, 2, 1.25); err != nil {
		t.Fatal(err)
	}
	got, err := hw.ReadCurrent(ctx, 2)
	if err != nil || got != 1.25 {
		t.Fatalf("ReadCurrent = %v, %v", got, err)
	}
}

func TestRunDriverHost_BrokerDownIsFatal(t *testing.T) {
	cfg := driverHostConfig(t)

	start := time.Now()
	err := RunDriverHost(context.Background(), cfg, quiet)
	if err == nil {
		t.Fatal("expected error when broker is unreachable")
	}
	if !faults.Is(err, faults.Transport) {
		t.Fatalf("err = %v; want a transport fault", err)
	}
	if time.Since(start) > connectTimeout {
		t.Fatalf("startup took %v", time.Since(start))
	}
}

func TestRunArchiver_MigratesAndShutsDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	cfg := config.ArchiverConfig{
		Common:         config.Common{AppEnv: "development", LogLevel: slog.LevelInfo},
		MQTT:           config.MQTT{Broker: "127.0.0.1", Port: closedPort(t), ClientID: "test-archiver", ConnectRetry: true},
		TelemetryTopic: "surfacecoils/+/telemetry",
		HTTPAddr:       "127.0.0.1:0",
		Driver:         "sqlite3",
		Path:           path,
		MaxOpenConns:   1,
		MaxIdleConns:   1,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := RunArchiver(ctx, cfg, quiet); !errors.Is(err, context.Canceled) {
		t.Fatalf("RunArchiver = %v; want context.Canceled", err)
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	var runs int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM archive_runs`).Scan(&runs); err != nil {
		t.Fatalf("archive schema missing: %v", err)
	}
	if runs != 1 {
		t.Fatalf("archive_runs = %d; want 1", runs)
	}
}

func TestHTTPServer_StopAfterServe(t *testing.T) {
	srv := startHTTP(&http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}, quiet)
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-srv.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestHTTPServer_ListenErrorReported(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Close() }()

	srv := startHTTP(&http.Server{Addr: l.Addr().String()}, quiet)
	select {
	case <-srv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server on a busy port did not fail")
	}
	if srv.Err() == nil {
		t.Fatal("expected listen error")
	}
	if err := srv.Stop(); err == nil {
		t.Fatal("Stop should report the listen error")
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fsipd/internal/config"
	"fsipd/internal/record"
	"fsipd/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithPort(testsupport.FreeUDPPort(t)))
	home := filepath.Join(testsupport.BaseDir(cfg), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv(config.NoForkEnv, "")

	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "fsipd.toml")
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func writeCaptureLog(t *testing.T, path string) []record.Record {
	t.Helper()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	recs := []record.Record{
		{Time: base, Protocol: record.ProtocolUDP, Family: record.IPv4, Addr: netip.MustParseAddr("192.0.2.10"), Port: 5062, Payload: "OPTIONS sip:a"},
		{Time: base.Add(time.Second), Protocol: record.ProtocolTCP, Family: record.IPv6, Addr: netip.MustParseAddr("2001:db8::1"), Port: 40000, Payload: `say "hi"`},
		{Time: base.Add(2 * time.Second), Protocol: record.ProtocolUDP, Family: record.IPv4, Addr: netip.MustParseAddr("198.51.100.7"), Port: 5060, Payload: "bell\x07"},
	}
	var b strings.Builder
	b.WriteString(record.Format(recs[0]) + "\n")
	b.WriteString("not,a,record\n")
	for _, rec := range recs[1:] {
		b.WriteString(record.Format(rec) + "\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write capture log: %v", err)
	}
	return recs
}

func TestConfigInitShowValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)

	out, _, err = runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "# loaded from "+env.configPath)
	requireContains(t, out, env.cfg.Capture.Path)

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, _, _, err := config.Load(target); err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse an existing file")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigShowWithoutFile(t *testing.T) {
	setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"config", "show"}, "")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "defaults in effect")
	requireContains(t, out, "port = 5060")
}

func TestRecordsPlainHonoursLimit(t *testing.T) {
	env := setupCLITestEnv(t)
	recs := writeCaptureLog(t, env.cfg.Capture.Path)

	out, errOut, err := runCLI(t, []string{"records", "--limit", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	want := record.Format(recs[1]) + "\n" + record.Format(recs[2]) + "\n"
	if out != want {
		t.Fatalf("records output = %q, want %q", out, want)
	}
	requireContains(t, errOut, "skipped 1 malformed")
}

func TestRecordsJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(t.TempDir(), "other.log")
	writeCaptureLog(t, path)

	out, _, err := runCLI(t, []string{"records", "--path", path, "--limit", "0", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("records --json: %v", err)
	}
	var view recordsView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if view.Path != path || view.Total != 3 || view.Malformed != 1 || len(view.Records) != 3 {
		t.Fatalf("unexpected summary: %+v", view)
	}
	second := view.Records[1]
	if second.Protocol != "TCP" || second.Family != "IPv6" || second.Address != "2001:db8::1" || second.Port != 40000 {
		t.Fatalf("second record = %+v", second)
	}
	if second.Payload != `say "hi"` {
		t.Fatalf("payload = %q", second.Payload)
	}
}

func TestRecordsTable(t *testing.T) {
	env := setupCLITestEnv(t)
	writeCaptureLog(t, env.cfg.Capture.Path)

	out, _, err := runCLI(t, []string{"records", "--table", "--limit", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("records --table: %v", err)
	}
	requireContains(t, out, "Payload")
	requireContains(t, out, "[2001:db8::1]:40000")
	requireContains(t, out, `bell\a`)
	requireContains(t, out, "Showing 2 of 3 records")
}

func TestRecordsMissingLog(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"records"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "open capture log") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestDisplayPayload(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"INVITE", "INVITE"},
		{"tab\there", `tab\there`},
		{strings.Repeat("x", payloadColumnWidth+5), strings.Repeat("x", payloadColumnWidth-3) + "..."},
	}
	for _, tt := range tests {
		if got := displayPayload(tt.in); got != tt.want {
			t.Errorf("displayPayload(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRecordsFollowStreamsNewRecords(t *testing.T) {
	env := setupCLITestEnv(t)
	recs := writeCaptureLog(t, env.cfg.Capture.Path)

	cmd := newRootCommand()
	var stdout, stderr lockedBuffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--config", env.configPath, "records", "--follow", "--json", "--limit", "1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	testsupport.WaitFor(t, 5*time.Second, "initial record", func() bool {
		return strings.Count(stdout.String(), "\n") == 1
	})

	later := recs[0]
	later.Payload = "REGISTER sip:late"
	f, err := os.OpenFile(env.cfg.Capture.Path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open capture log: %v", err)
	}
	if _, err := f.WriteString(record.Format(later) + "\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = f.Close()

	testsupport.WaitFor(t, 5*time.Second, "followed record", func() bool {
		return strings.Contains(stdout.String(), "REGISTER sip:late")
	})
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("records --follow: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("records --follow did not stop")
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two JSON lines, got %q", lines)
	}
	var first recordView
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Payload != recs[2].Payload {
		t.Fatalf("first followed payload = %q, want %q", first.Payload, recs[2].Payload)
	}
}

func TestCheckReportsEachEndpoint(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"check"}, env.configPath)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	requireContains(t, out, "Capture directory:")
	requireContains(t, out, "[OK] no pid file")
	requireContains(t, out, fmt.Sprintf("udp4 port %d:", env.cfg.Listen.Port))
}

func TestCheckLine(t *testing.T) {
	if got := checkLine("Instance lock", false, "held", false); got != "  Instance lock:           [FAIL] held" {
		t.Fatalf("checkLine = %q", got)
	}
	if got := checkLine("x", true, "", false); strings.HasSuffix(got, " ") || !strings.HasSuffix(got, "[OK]") {
		t.Fatalf("checkLine without detail = %q", got)
	}
	if got := checkLine("x", true, "", true); !strings.Contains(got, "[OK]") {
		t.Fatalf("colorized line = %q", got)
	}
}

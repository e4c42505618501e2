package mohnet

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
address: 192.168.1.20:12203
protocol: 17
qport: 1234
max_packets: 500
timeout: 45
time_nudge: -10
pmove_fixed: true
pmove_msec: 16
error_decay: 50
cdkey: ABCDEF
userinfo:
  name: Tester
  rate: 25000
log:
  level: debug
  pretty: true
`

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatal(err)
	}

	if c.Address != "192.168.1.20:12203" || c.Protocol != 17 || c.Qport != 1234 {
		t.Fatalf("endpoint %q %d %d", c.Address, c.Protocol, c.Qport)
	}
	// clamped to the engine bounds
	if c.MaxPackets != MaxMaxPackets {
		t.Fatalf("max packets = %d", c.MaxPackets)
	}
	if c.Timeout != 45*time.Second || c.ErrorDecay != 50*time.Millisecond || c.TimeNudge != -10 {
		t.Fatalf("timeout %v decay %v nudge %d", c.Timeout, c.ErrorDecay, c.TimeNudge)
	}
	if !c.PmoveFixed || c.PmoveMsec != 16 || c.CDKey != "ABCDEF" {
		t.Fatalf("pmove %v %d cdkey %q", c.PmoveFixed, c.PmoveMsec, c.CDKey)
	}
	if c.UserInfo["name"] != "Tester" || c.UserInfo["rate"] != "25000" {
		t.Fatalf("userinfo = %v", c.UserInfo)
	}
	if c.Log.Level != "debug" || !c.Log.Pretty {
		t.Fatalf("log = %+v", c.Log)
	}
	if c.Key("log:level") != "debug" || c.Key("log:missing:deeper") != nil {
		t.Fatal("nested key lookup")
	}
}

func TestConfigDefaults(t *testing.T) {
	c, err := ParseConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxPackets != DefaultMaxPackets || c.Timeout != DefaultTimeout || c.PmoveMsec != DefaultPmoveMsec {
		t.Fatalf("defaults %+v", c)
	}
	if c.MaxPacketsPerTick != DefaultMaxPacketsPerTick || c.Log.Level != "info" {
		t.Fatalf("defaults %+v", c)
	}
}

func TestConfigErrors(t *testing.T) {
	for _, data := range []string{
		"qport: 70000",
		"protocol: 11",
		"timeout: soon",
		"address: [1, 2]",
		"pmove_fixed: 3",
		"userinfo: name",
	} {
		if _, err := ParseConfig([]byte(data)); !errors.Is(err, ErrConfig) && !errors.Is(err, ErrProtocolVersion) {
			t.Errorf("%q: got %v", data, err)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("address: localhost:12203\ntimeout: 1m30s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Address != "localhost:12203" || c.Timeout != 90*time.Second {
		t.Fatalf("config %q %v", c.Address, c.Timeout)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got %v", err)
	}
}

func TestStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.db")
	s, err := OpenStorage(path)
	if err != nil {
		t.Fatal(err)
	}

	guid, err := s.GUID()
	if err != nil || len(guid) != 32 {
		t.Fatalf("guid %q %v", guid, err)
	}

	if err := s.SetKey("name", "Tester"); err != nil {
		t.Fatal(err)
	}
	if v, err := s.Key("name"); err != nil || v != "Tester" {
		t.Fatalf("key = %q %v", v, err)
	}
	if err := s.SetKey("name", ""); err != nil {
		t.Fatal(err)
	}
	if v, err := s.Key("name"); err != nil || v != "" {
		t.Fatalf("deleted key = %q %v", v, err)
	}

	if _, ok, err := s.ServerProtocol("1.2.3.4:12203"); ok || err != nil {
		t.Fatalf("unknown server: %v %v", ok, err)
	}
	seen := time.Unix(1700000000, 0)
	for _, p := range []int{8, 15} {
		if err := s.SetServerProtocol("1.2.3.4:12203", p, seen); err != nil {
			t.Fatal(err)
		}
	}
	if p, ok, err := s.ServerProtocol("1.2.3.4:12203"); !ok || err != nil || p != 15 {
		t.Fatalf("protocol %d %v %v", p, ok, err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// the guid survives a restart
	s, err = OpenStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if again, err := s.GUID(); err != nil || again != guid {
		t.Fatalf("guid %q, want %q (%v)", again, guid, err)
	}
}

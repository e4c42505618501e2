package mohnet

import (
	"errors"
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`cs 20 "hello world"`, []string{"cs", "20", "hello world"}},
		{`  print   "a"b  `, []string{"print", "a", "b"}},
		{`say hi // comment`, []string{"say", "hi"}},
		{`say /* skip */ hi`, []string{"say", "hi"}},
		{`cmd "unterminated`, []string{"cmd", "unterminated"}},
		{"", nil},
	}
	for _, tt := range tests {
		if got := Tokenize(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokenize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestText(t *testing.T) {
	if got := DecodeText("caf\xe9"); got != "café" {
		t.Errorf("DecodeText = %q", got)
	}
	if got := EncodeText("café"); got != "caf\xe9" {
		t.Errorf("EncodeText = %q", got)
	}
	if got := EncodeText("a☃b"); got != "ab" {
		t.Errorf("EncodeText dropped nothing: %q", got)
	}
}

func TestReliableCommands(t *testing.T) {
	var r ReliableCommands
	for i := 0; i < MaxReliableCommands; i++ {
		if err := r.Add("cmd"); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if err := r.Add("one too many"); !errors.Is(err, ErrCommandOverflow) {
		t.Fatalf("got %v, want ErrCommandOverflow", err)
	}

	r.Acknowledge(MaxReliableCommands - 2)
	var seqs []int32
	r.Pending(func(seq int32, cmd string) { seqs = append(seqs, seq) })
	if !reflect.DeepEqual(seqs, []int32{MaxReliableCommands - 1, MaxReliableCommands}) {
		t.Fatalf("pending = %v", seqs)
	}

	// acknowledgements from the future are ignored
	r.Acknowledge(MaxReliableCommands + 5)
	if r.Acknowledged() != MaxReliableCommands-2 {
		t.Fatalf("acknowledged = %d", r.Acknowledged())
	}

	if cmd, ok := r.Get(MaxReliableCommands); !ok || cmd != "cmd" {
		t.Fatalf("get = %q %v", cmd, ok)
	}
	if _, ok := r.Get(0); ok {
		t.Fatal("got command 0")
	}
}

func TestServerCommands(t *testing.T) {
	var s ServerCommands
	s.Reset(10)

	if !s.Add(11, `cs 3 "abc"`) || s.Add(11, `cs 3 "abc"`) || s.Add(9, "old") {
		t.Fatal("duplicate handling")
	}
	args, ok, err := s.Get(11)
	if err != nil || !ok || !reflect.DeepEqual(args, []string{"cs", "3", "abc"}) {
		t.Fatalf("get = %q %v %v", args, ok, err)
	}
	if s.Executed() != 11 {
		t.Fatalf("executed = %d", s.Executed())
	}

	if _, _, err := s.Get(12); !errors.Is(err, ErrCommandNotReceived) {
		t.Fatalf("got %v, want ErrCommandNotReceived", err)
	}
	if _, _, err := s.Get(10 - MaxReliableCommands); !errors.Is(err, ErrCommandCycled) {
		t.Fatalf("got %v, want ErrCommandCycled", err)
	}
}

func TestBigConfigString(t *testing.T) {
	var s ServerCommands
	s.Reset(0)
	s.Add(1, `bcs0 5 "first "`)
	s.Add(2, `bcs1 5 "middle "`)
	s.Add(3, `bcs2 5 "last"`)

	for n := int32(1); n <= 2; n++ {
		if _, ok, err := s.Get(n); ok || err != nil {
			t.Fatalf("part %d: %v %v", n, ok, err)
		}
	}
	args, ok, err := s.Get(3)
	if err != nil || !ok {
		t.Fatalf("last part: %v %v", ok, err)
	}
	if !reflect.DeepEqual(args, []string{"cs", "5", "first middle last"}) {
		t.Fatalf("assembled %q", args)
	}
}

func TestDisconnectCommand(t *testing.T) {
	var s ServerCommands
	s.Reset(0)
	s.Add(1, `disconnect "Server shutting down"`)

	_, _, err := s.Get(1)
	var de *DisconnectError
	if !errors.As(err, &de) || de.Reason != "Server shutting down" {
		t.Fatalf("got %v", err)
	}
	if de.Error() != "server disconnected - Server shutting down" {
		t.Fatalf("message %q", de.Error())
	}
}

func TestInfo(t *testing.T) {
	info, err := InfoFromMap(map[string]string{"name": "Tester", "rate": "25000", "empty": ""})
	if err != nil {
		t.Fatal(err)
	}
	if info != `\name\Tester\rate\25000` {
		t.Fatalf("info = %q", info)
	}

	if InfoValueForKey(info, "NAME") != "Tester" || InfoValueForKey(info, "missing") != "" {
		t.Fatal("lookup")
	}

	info, err = InfoSetValueForKey(info, "name", "Other")
	if err != nil || info != `\rate\25000\name\Other` {
		t.Fatalf("set = %q %v", info, err)
	}
	if _, err := InfoSetValueForKey(info, "name", `a"b`); !errors.Is(err, ErrInfoChars) {
		t.Fatalf("got %v, want ErrInfoChars", err)
	}
	if got := InfoRemoveKey(info, "rate"); got != `\name\Other` {
		t.Fatalf("remove = %q", got)
	}
}

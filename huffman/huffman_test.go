package huffman

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := 0; n < 50; n++ {
		data := make([]byte, rng.Intn(2000))
		for i := range data {
			// skewed distribution so the tree actually rebalances
			data[i] = byte(rng.Intn(1 + rng.Intn(256)))
		}

		enc, dec := New(), New()
		buf := &Buffer{}
		for _, b := range data {
			enc.Encode(buf, b)
		}

		in := NewBuffer(buf.Bytes())
		for i, want := range data {
			got, err := dec.Decode(in)
			if err != nil {
				t.Fatalf("run %d symbol %d: %v", n, i, err)
			}
			if got != want {
				t.Fatalf("run %d symbol %d: got %#x, want %#x", n, i, got, want)
			}
		}
	}
}

func TestAllSymbols(t *testing.T) {
	data := make([]byte, 0, 256*3)
	for r := 0; r < 3; r++ {
		for i := 0; i < 256; i++ {
			data = append(data, byte(i))
		}
	}

	out, err := Decompress(Compress(data), len(data))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Fatal("round trip mismatch")
	}
}

func TestCompressKnownBits(t *testing.T) {
	// first 'A' is NYT (empty path on a fresh tree) plus literal 0x41
	// sent msb first, the second 'A' is a single 1 bit
	got := Compress([]byte("AA"))
	want := []byte{0x00, 0x02, 0x82, 0x01}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestDecompressLimits(t *testing.T) {
	if _, err := Decompress([]byte{0x10}, 100); err == nil {
		t.Fatal("expected error for short header")
	}
	if _, err := Decompress(Compress(make([]byte, 50)), 10); err != ErrTooLong {
		t.Fatalf("got %v, want ErrTooLong", err)
	}
	c := Compress([]byte("hello world"))
	if _, err := Decompress(c[:len(c)-2], 100); err == nil {
		t.Fatal("expected error for truncated input")
	}
}

func TestWeightsTrackAddRef(t *testing.T) {
	tr := New()
	for i := 0; i < 5; i++ {
		tr.AddRef('x')
	}
	tr.AddRef('y')
	if got := tr.Weight('x'); got != 5 {
		t.Fatalf("weight x = %d, want 5", got)
	}
	if !tr.Known('y') || tr.Known('z') {
		t.Fatal("unexpected known set")
	}
}

// A receiver that misses one AddRef must not decode the rest correctly.
// This pins the lock-step requirement of the protocol.
func TestSkippedAddRefDiverges(t *testing.T) {
	enc, dec := New(), New()
	buf := &Buffer{}
	enc.Encode(buf, 'a')
	enc.Encode(buf, 'b')

	in := NewBuffer(buf.Bytes())
	sym, err := dec.Receive(in)
	if err != nil {
		t.Fatal(err)
	}
	if sym != NYT {
		t.Fatalf("first symbol = %d, want NYT", sym)
	}
	lit := 0
	for i := 0; i < 8; i++ {
		b, _ := in.ReadBit()
		lit = lit<<1 | int(b)
	}
	if lit != 'a' {
		t.Fatalf("literal = %#x, want 'a'", lit)
	}

	// no AddRef('a') here
	got, err := dec.Decode(in)
	if err != nil {
		t.Fatal(err)
	}
	if got != '1' {
		t.Fatalf("diverged symbol = %q, want '1'", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := New()
	a.AddRef(1)
	b := a.Clone()
	b.AddRef(2)
	if a.Known(2) {
		t.Fatal("clone shares state")
	}
	if !b.Known(1) {
		t.Fatal("clone lost state")
	}
}

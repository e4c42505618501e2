package netsim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLatency(t *testing.T) {
	a, b := Pair(Options{Latency: 20 * time.Millisecond}, Options{}, zerolog.Nop())
	defer a.Close()

	start := time.Now()
	if err := a.Send([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := b.Receive(); ok {
		t.Fatal("datagram arrived without latency")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d < 20*time.Millisecond {
		t.Fatalf("delivered after %v", d)
	}

	got, ok, err := b.Receive()
	if err != nil || !ok || string(got) != "ping" {
		t.Fatalf("got %q %v %v", got, ok, err)
	}

	// the reverse direction has no latency
	b.Send([]byte("pong"))
	if err := a.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _, _ := a.Receive(); string(got) != "pong" {
		t.Fatalf("got %q, want pong", got)
	}
}

func TestLoss(t *testing.T) {
	a, b := Pair(Options{Loss: 1}, Options{Loss: 0.5, Seed: 7}, zerolog.Nop())

	for i := 0; i < 100; i++ {
		a.Send([]byte{byte(i)})
		b.Send([]byte{byte(i)})
	}
	a.Close()

	if _, ok, _ := b.Receive(); ok {
		t.Fatal("datagram survived full loss")
	}
	if st := a.Stats(); st.Sent != 100 || st.Dropped != 100 || st.Delivered != 0 {
		t.Fatalf("a stats = %+v", st)
	}

	st := b.Stats()
	if st.Dropped == 0 || st.Dropped == 100 || st.Dropped+st.Delivered != 100 {
		t.Fatalf("b stats = %+v", st)
	}
	n := 0
	for {
		if _, ok, _ := a.Receive(); !ok {
			break
		}
		n++
	}
	if n != st.Delivered {
		t.Fatalf("received %d, delivered %d", n, st.Delivered)
	}
}

func TestWaitCancel(t *testing.T) {
	a, b := Pair(Options{}, Options{}, zerolog.Nop())
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
}

func TestClosed(t *testing.T) {
	a, b := Pair(Options{}, Options{}, zerolog.Nop())
	a.Close()

	if err := b.Send([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
	if err := a.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

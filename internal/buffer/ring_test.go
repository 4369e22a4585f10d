// SPDX-License-Identifier: MIT
package buffer

import (
	"sync"
	"testing"
	"time"
)

func mustRing(t *testing.T, capacity int, sampleRate float64) *Ring {
	t.Helper()
	r, err := NewRing(capacity, sampleRate)
	if err != nil {
		t.Fatalf("NewRing(%d, %.0f): %v", capacity, sampleRate, err)
	}
	return r
}

func TestOverrunDropsOldest(t *testing.T) {
	r := mustRing(t, 8, 44100)

	input := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	n, err := r.Write(input)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(input) {
		t.Errorf("Write accepted %d, want %d", n, len(input))
	}

	st := r.Stats()
	if st.Size != 8 {
		t.Errorf("size = %d, want 8", st.Size)
	}
	if st.Overruns < 1 {
		t.Errorf("overruns = %d, want >= 1", st.Overruns)
	}

	got, err := r.Read(8)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []float32{3, 4, 5, 6, 7, 8, 9, 10}
	if len(got) != len(want) {
		t.Fatalf("Read returned %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestShortReadOnEmpty(t *testing.T) {
	r := mustRing(t, 16, 44100)

	got, err := r.Read(5)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Read returned %d samples, want 0", len(got))
	}
	if st := r.Stats(); st.Underruns != 1 {
		t.Errorf("underruns = %d, want 1", st.Underruns)
	}
}

// The accounting invariant: everything written is either still buffered,
// already read, or dropped by an overrun.
func TestAccountingInvariant(t *testing.T) {
	r := mustRing(t, 32, 44100)

	for i := 0; i < 10; i++ {
		_, _ = r.Write(make([]float32, 13))
		_, _ = r.Read(7)
	}

	st := r.Stats()
	if st.TotalWritten != st.TotalRead+uint64(st.Size)+st.Dropped {
		t.Errorf("total_written %d != total_read %d + size %d + dropped %d",
			st.TotalWritten, st.TotalRead, st.Size, st.Dropped)
	}
	if st.Size < 0 || st.Size > st.Capacity {
		t.Errorf("size %d outside [0, %d]", st.Size, st.Capacity)
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	r := mustRing(t, 16, 44100)
	_, _ = r.Write([]float32{1, 2, 3})

	p := r.Peek(2)
	if len(p) != 2 || p[0] != 1 || p[1] != 2 {
		t.Errorf("Peek = %v, want [1 2]", p)
	}
	if r.Len() != 3 {
		t.Errorf("Len after Peek = %d, want 3", r.Len())
	}
	if st := r.Stats(); st.Underruns != 0 {
		t.Errorf("Peek must not account underruns, got %d", st.Underruns)
	}
}

func TestReadTimeoutDeliversWhenDataArrives(t *testing.T) {
	r := mustRing(t, 16, 44100)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = r.Write([]float32{42})
	}()

	start := time.Now()
	got, err := r.ReadTimeout(1, time.Second)
	if err != nil {
		t.Fatalf("ReadTimeout: %v", err)
	}
	if len(got) != 1 || got[0] != 42 {
		t.Errorf("ReadTimeout = %v, want [42]", got)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("ReadTimeout waited past data arrival")
	}
}

func TestReadTimeoutExpiresAsUnderrun(t *testing.T) {
	r := mustRing(t, 16, 44100)

	got, err := r.ReadTimeout(4, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadTimeout: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expired ReadTimeout returned %d samples, want 0", len(got))
	}
	if st := r.Stats(); st.Underruns != 1 {
		t.Errorf("underruns = %d, want 1", st.Underruns)
	}
}

func TestWriteTimeoutBlocksWithoutDropping(t *testing.T) {
	r := mustRing(t, 4, 44100)
	_, _ = r.Write([]float32{1, 2, 3, 4})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = r.Read(2)
	}()

	n, err := r.WriteTimeout([]float32{5, 6}, time.Second)
	if err != nil {
		t.Fatalf("WriteTimeout: %v", err)
	}
	if n != 2 {
		t.Errorf("WriteTimeout wrote %d, want 2", n)
	}
	if st := r.Stats(); st.Dropped != 0 {
		t.Errorf("WriteTimeout dropped %d samples, want 0", st.Dropped)
	}
}

func TestWriteTimeoutShortOnDeadline(t *testing.T) {
	r := mustRing(t, 4, 44100)
	_, _ = r.Write([]float32{1, 2, 3})

	n, err := r.WriteTimeout([]float32{4, 5, 6}, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("WriteTimeout: %v", err)
	}
	if n != 1 {
		t.Errorf("WriteTimeout wrote %d, want 1 (only one slot free)", n)
	}
}

func TestClosedBufferFails(t *testing.T) {
	r := mustRing(t, 8, 44100)
	r.Close()

	if _, err := r.Write([]float32{1}); err != ErrBufferClosed {
		t.Errorf("Write after Close: %v, want ErrBufferClosed", err)
	}
	if _, err := r.Read(1); err != ErrBufferClosed {
		t.Errorf("Read after Close: %v, want ErrBufferClosed", err)
	}
}

func TestCloseWakesBlockedReader(t *testing.T) {
	r := mustRing(t, 8, 44100)

	done := make(chan error, 1)
	go func() {
		_, err := r.ReadTimeout(1, 10*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case err := <-done:
		if err != ErrBufferClosed {
			t.Errorf("blocked read returned %v, want ErrBufferClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked reader was not woken by Close")
	}
}

func TestClearResetsStateAndHealth(t *testing.T) {
	r := mustRing(t, 4, 44100)
	_, _ = r.Write([]float32{1, 2, 3, 4, 5}) // forces an overrun

	r.Clear()
	st := r.Stats()
	if st.Size != 0 {
		t.Errorf("size after Clear = %d, want 0", st.Size)
	}
	if st.Status != Healthy {
		t.Errorf("status after Clear = %v, want healthy", st.Status)
	}
}

func TestHealthRecoversAfterWindow(t *testing.T) {
	r := mustRing(t, 2, 44100)
	_, _ = r.Write([]float32{1, 2, 3})

	if st := r.Stats(); st.Status != Overrun {
		t.Errorf("status right after overrun = %v, want overrun", st.Status)
	}
	time.Sleep(healthWindow + 20*time.Millisecond)
	if st := r.Stats(); st.Status != Healthy {
		t.Errorf("status after health window = %v, want healthy", st.Status)
	}
}

// Steady-state latency never exceeds the sizing target when there are no
// overruns.
func TestLatencyBound(t *testing.T) {
	const latencyMS = 50
	const rate = 44100
	capacity := SizeForLatency(latencyMS, rate, 1)
	r := mustRing(t, capacity, rate)

	_, _ = r.Write(make([]float32, capacity))
	st := r.Stats()
	if st.Overruns != 0 {
		t.Fatalf("unexpected overruns: %d", st.Overruns)
	}
	if st.LatencyMS > latencyMS+1 {
		t.Errorf("latency %.2f ms exceeds %d+1 ms", st.LatencyMS, latencyMS)
	}
}

func TestSizeForLatency(t *testing.T) {
	tests := []struct {
		latencyMS  float64
		sampleRate float64
		channels   int
		want       int
	}{
		{50, 44100, 1, 2205},
		{50, 44100, 2, 4410},
		{100, 48000, 2, 9600},
		{10, 22050, 1, 221}, // ceil(220.5)
	}
	for _, tt := range tests {
		if got := SizeForLatency(tt.latencyMS, tt.sampleRate, tt.channels); got != tt.want {
			t.Errorf("SizeForLatency(%.0f, %.0f, %d) = %d, want %d",
				tt.latencyMS, tt.sampleRate, tt.channels, got, tt.want)
		}
	}
}

// FIFO order must hold under concurrent producer and consumer.
func TestConcurrentFIFO(t *testing.T) {
	r := mustRing(t, 1024, 44100)
	const total = 10000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			for {
				n, err := r.WriteTimeout([]float32{float32(i)}, time.Second)
				if err != nil || n == 1 {
					break
				}
			}
		}
	}()

	var received []float32
	go func() {
		defer wg.Done()
		for len(received) < total {
			got, err := r.ReadTimeout(256, time.Second)
			if err != nil {
				return
			}
			received = append(received, got...)
		}
	}()

	wg.Wait()
	if len(received) != total {
		t.Fatalf("received %d samples, want %d", len(received), total)
	}
	for i, v := range received {
		if v != float32(i) {
			t.Fatalf("sample %d = %v, FIFO order violated", i, v)
		}
	}
}

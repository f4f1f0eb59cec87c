package gateway

import (
	"strconv"
	"testing"
)

func TestReplayBuffer_Since(t *testing.T) {
	rb := NewReplayBuffer(100)
	for i := int64(1); i <= 10; i++ {
		rb.Push(i, []byte(strconv.FormatInt(i, 10)))
	}

	got := rb.Since(7)
	if len(got) != 3 {
		t.Fatalf("Since(7): expected 3, got %d", len(got))
	}
	for i, want := range []string{"8", "9", "10"} {
		if string(got[i]) != want {
			t.Errorf("entry[%d] = %s, want %s", i, got[i], want)
		}
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte(strconv.FormatInt(i, 10)))
	}

	if rb.Len() != 5 {
		t.Fatalf("expected Len 5, got %d", rb.Len())
	}
	got := rb.Since(0)
	if len(got) != 5 || string(got[0]) != "4" || string(got[4]) != "8" {
		t.Fatalf("expected 4..8 oldest first, got %q", got)
	}
}

func TestReplayBuffer_CopiesData(t *testing.T) {
	rb := NewReplayBuffer(2)
	data := []byte("abc")
	rb.Push(1, data)
	data[0] = 'x'

	if got := rb.Since(0); string(got[0]) != "abc" {
		t.Errorf("buffer aliases caller slice: %s", got[0])
	}
}

package server

import (
	"errors"
	"testing"

	"github.com/matryer/is"
)

func TestQueue_FIFO(t *testing.T) {
	is := is.New(t)
	q := newQueue()

	var got []int
	for i := range 5 {
		is.NoErr(q.push(func() { got = append(got, i) }))
	}
	is.Equal(q.len(), 5)

	select {
	case <-q.wake:
	default:
		t.Fatal("push did not signal wake")
	}

	for _, fn := range q.drain() {
		fn()
	}
	is.Equal(got, []int{0, 1, 2, 3, 4})
	is.Equal(q.len(), 0)
}

func TestQueue_Closed(t *testing.T) {
	is := is.New(t)
	q := newQueue()

	ran := false
	is.NoErr(q.push(func() { ran = true }))
	q.close()

	is.True(errors.Is(q.push(func() {}), ErrClosed))

	// Work queued before close still drains.
	for _, fn := range q.drain() {
		fn()
	}
	is.True(ran)
}

func TestClean(t *testing.T) {
	tests := []struct {
		in, def, want string
	}{
		{"", "unknown", "unknown"},
		{"10.0.0.1", "unknown", "10.0.0.1"},
		{"a\xffb", "", "a�b"},
	}
	for _, tt := range tests {
		if got := clean(tt.in, tt.def); got != tt.want {
			t.Errorf("clean(%q, %q) = %q, want %q", tt.in, tt.def, got, tt.want)
		}
	}
}

func TestSplitInterfaces(t *testing.T) {
	is := is.New(t)
	is.Equal(splitInterfaces("10.0.0.1,10.0.0.2;  192.168.0.1 ;;"), []string{"10.0.0.1", "10.0.0.2", "192.168.0.1"})
	is.Equal(len(splitInterfaces(" , ; ")), 0)
}

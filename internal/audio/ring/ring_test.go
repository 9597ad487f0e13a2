package ring

import (
	"reflect"
	"testing"
)

func TestLatestBeforeWrap(t *testing.T) {
	b := New(5)
	b.Write([]float32{1, 2})
	if got := b.Latest(4); !reflect.DeepEqual(got, []float32{0, 0, 1, 2}) {
		t.Fatalf("latest=%v want [0 0 1 2]", got)
	}
	if b.Filled() {
		t.Fatalf("buffer should not report filled yet")
	}
}

func TestLatestAfterWrap(t *testing.T) {
	b := New(4)
	b.Write([]float32{1, 2, 3})
	b.Write([]float32{4, 5, 6})
	if got := b.Latest(4); !reflect.DeepEqual(got, []float32{3, 4, 5, 6}) {
		t.Fatalf("latest=%v want [3 4 5 6]", got)
	}
	if got := b.Latest(2); !reflect.DeepEqual(got, []float32{5, 6}) {
		t.Fatalf("latest(2)=%v want [5 6]", got)
	}
	if !b.Filled() {
		t.Fatalf("expected filled after wrap")
	}
}

func TestWriteLongerThanBuffer(t *testing.T) {
	b := New(3)
	b.Write([]float32{1, 2, 3, 4, 5})
	if got := b.Latest(0); !reflect.DeepEqual(got, []float32{3, 4, 5}) {
		t.Fatalf("latest=%v want [3 4 5]", got)
	}
}

func TestWriteInterleavedDownmixes(t *testing.T) {
	b := New(2)
	b.WriteInterleaved([]float32{1, 3, -1, 1}, 2)
	if got := b.Latest(2); !reflect.DeepEqual(got, []float32{2, 0}) {
		t.Fatalf("latest=%v want [2 0]", got)
	}
}

func TestLatestCopies(t *testing.T) {
	b := New(2)
	b.Write([]float32{7, 8})
	got := b.Latest(2)
	got[0] = 99
	if again := b.Latest(2); again[0] != 7 {
		t.Fatalf("Latest must return a copy, got %v", again)
	}
}

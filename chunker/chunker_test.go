package chunker

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"
	"testing/iotest"

	"xdao.co/cadstore/model"
)

func randomBytes(t *testing.T, n int, seed int64) []byte {
	t.Helper()
	b := make([]byte, n)
	r := rand.New(rand.NewSource(seed))
	if _, err := r.Read(b); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestFixedSize_Lengths(t *testing.T) {
	tests := []struct {
		name string
		size int
		max  int
		want []int
	}{
		{"empty", 0, 4, []int{0}},
		{"short", 3, 4, []int{3}},
		{"exact", 8, 4, []int{4, 4}},
		{"remainder", 10, 4, []int{4, 4, 2}},
		{"one byte chunks", 3, 1, []int{1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := randomBytes(t, tt.size, 1)
			chunks, err := All(bytes.NewReader(data), Options{MaxChunkSize: tt.max})
			if err != nil {
				t.Fatalf("All: %v", err)
			}
			if len(chunks) != len(tt.want) {
				t.Fatalf("got %d chunks want %d", len(chunks), len(tt.want))
			}
			for i, c := range chunks {
				if len(c) != tt.want[i] {
					t.Fatalf("chunk %d len=%d want %d", i, len(c), tt.want[i])
				}
			}
			if got := bytes.Join(chunks, nil); !bytes.Equal(got, data) {
				t.Fatalf("concatenation differs from input")
			}
		})
	}
}

func TestEmptyInput_SingleEmptyChunk(t *testing.T) {
	for _, s := range []Strategy{StrategySize, StrategyBuzhash, StrategyRabin} {
		t.Run(string(s), func(t *testing.T) {
			c, err := New(bytes.NewReader(nil), Options{Strategy: s})
			if err != nil {
				t.Fatal(err)
			}
			b, err := c.Next()
			if err != nil {
				t.Fatalf("first Next: %v", err)
			}
			if b == nil || len(b) != 0 {
				t.Fatalf("want a non-nil empty chunk, got %v", b)
			}
			if _, err := c.Next(); err != io.EOF {
				t.Fatalf("second Next err=%v want io.EOF", err)
			}
			if _, err := c.Next(); err != io.EOF {
				t.Fatalf("Next after EOF err=%v want io.EOF", err)
			}
		})
	}
}

func TestContentDefined_RespectsMax(t *testing.T) {
	data := randomBytes(t, 3<<20, 7)
	for _, s := range []Strategy{StrategyBuzhash, StrategyRabin} {
		t.Run(string(s), func(t *testing.T) {
			const max = 64 * 1024
			chunks, err := All(bytes.NewReader(data), Options{Strategy: s, MaxChunkSize: max})
			if err != nil {
				t.Fatal(err)
			}
			for i, c := range chunks {
				if len(c) == 0 || len(c) > max {
					t.Fatalf("chunk %d has length %d", i, len(c))
				}
			}
			if !bytes.Equal(bytes.Join(chunks, nil), data) {
				t.Fatalf("concatenation differs from input")
			}
		})
	}
}

func TestDeterministic(t *testing.T) {
	data := randomBytes(t, 1<<20, 3)
	a, err := All(bytes.NewReader(data), Options{Strategy: StrategyBuzhash})
	if err != nil {
		t.Fatal(err)
	}
	b, err := All(bytes.NewReader(data), Options{Strategy: StrategyBuzhash})
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			t.Fatalf("chunk %d differs", i)
		}
	}
}

func TestReset(t *testing.T) {
	data := randomBytes(t, 10, 5)
	c, err := New(bytes.NewReader(data), Options{MaxChunkSize: 4})
	if err != nil {
		t.Fatal(err)
	}
	first, err := c.Next()
	if err != nil {
		t.Fatal(err)
	}
	first = append([]byte(nil), first...)
	if _, err := c.Next(); err != nil {
		t.Fatal(err)
	}
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	again, err := c.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, again) {
		t.Fatalf("Reset did not restart from the beginning")
	}
}

func TestReset_NotSeekable(t *testing.T) {
	c, err := New(io.MultiReader(bytes.NewReader([]byte("abc"))), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Reset(); !model.IsKind(err, model.KindInvalidInput) {
		t.Fatalf("Reset err=%v want KindInvalidInput", err)
	}
}

func TestReadError_IsIO(t *testing.T) {
	boom := errors.New("disk on fire")
	c, err := New(iotest.ErrReader(boom), Options{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Next()
	if !model.IsKind(err, model.KindIO) {
		t.Fatalf("err=%v want KindIO", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause lost: %v", err)
	}
	if _, err := c.Next(); err != io.EOF {
		t.Fatalf("Next after failure err=%v want io.EOF", err)
	}
}

func TestOptions_Validate(t *testing.T) {
	if err := (Options{}).Validate(); err != nil {
		t.Fatalf("zero options: %v", err)
	}
	if err := (Options{Strategy: "fastcdc"}).Validate(); err == nil {
		t.Fatalf("expected unknown strategy error")
	}
	if err := (Options{MaxChunkSize: -1}).Validate(); err == nil {
		t.Fatalf("expected negative size error")
	}
	if err := (Options{MaxChunkSize: maxAllowedChunkSize + 1}).Validate(); err == nil {
		t.Fatalf("expected oversize error")
	}
	if _, err := New(bytes.NewReader(nil), Options{Strategy: "nope"}); !model.IsKind(err, model.KindInvalidInput) {
		t.Fatalf("New with bad options err=%v", err)
	}
}

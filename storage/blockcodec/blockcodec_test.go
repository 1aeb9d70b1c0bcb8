package blockcodec

import (
	"bytes"
	"math/rand"
	"testing"

	"xdao.co/cadstore/storage"
)

func TestEncodeDecode(t *testing.T) {
	text := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 200)
	noise := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(noise)

	tests := []struct {
		name     string
		data     []byte
		c        Compression
		wantUsed Compression
	}{
		{"empty none", []byte{}, None, None},
		{"empty zstd", []byte{}, Zstd, None},
		{"text lz4", text, LZ4, LZ4},
		{"text zstd", text, Zstd, Zstd},
		{"noise lz4 falls back", noise, LZ4, None},
		{"noise zstd falls back", noise, Zstd, None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.data, tt.c)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if Compression(frame[0]) != tt.wantUsed {
				t.Fatalf("frame tag=%s want %s", Compression(frame[0]), tt.wantUsed)
			}
			n, err := DecodedLen(frame)
			if err != nil || n != len(tt.data) {
				t.Fatalf("DecodedLen=%d,%v want %d", n, err, len(tt.data))
			}
			got, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Fatalf("round trip mismatch")
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	good, err := Encode(bytes.Repeat([]byte("a"), 1000), Zstd)
	if err != nil {
		t.Fatal(err)
	}
	tests := map[string][]byte{
		"empty":       nil,
		"tag only":    {0},
		"unknown tag": {9, 1, 'x'},
		"short none":  {0, 5, 'a'},
		"cut zstd":    good[:len(good)-3],
	}
	for name, frame := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(frame); !storage.IsCorrupted(err) {
				t.Fatalf("Decode err=%v want corruption", err)
			}
		})
	}
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{None, LZ4, Zstd} {
		got, err := ParseCompression(c.String())
		if err != nil || got != c {
			t.Fatalf("ParseCompression(%s)=%v,%v", c, got, err)
		}
	}
	if _, err := ParseCompression("brotli"); err == nil {
		t.Fatalf("expected error")
	}
}

package cidutil

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"

	"xdao.co/cadstore/model"
)

var allHashes = []HashTag{HashSHA2_256, HashBLAKE2b256, HashSHA3_256, HashBLAKE3}

func TestHashTag_KnownEmptyDigests(t *testing.T) {
	tests := []struct {
		hash HashTag
		want string
	}{
		{HashSHA2_256, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{HashBLAKE2b256, "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8"},
		{HashSHA3_256, "a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a"},
		{HashBLAKE3, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"},
	}
	for _, tt := range tests {
		t.Run(tt.hash.String(), func(t *testing.T) {
			got := hex.EncodeToString(tt.hash.Sum(nil))
			if got != tt.want {
				t.Fatalf("Sum(empty)=%s want %s", got, tt.want)
			}
		})
	}
}

func TestHashTag_ParseRoundTrip(t *testing.T) {
	for _, h := range allHashes {
		got, err := ParseHashTag(h.String())
		if err != nil {
			t.Fatalf("ParseHashTag(%q): %v", h, err)
		}
		if got != h {
			t.Fatalf("ParseHashTag(%q)=%v", h, got)
		}
		back, ok := HashTagFromCode(h.Code())
		if !ok || back != h {
			t.Fatalf("HashTagFromCode(0x%x)=%v,%v", h.Code(), back, ok)
		}
	}
	if _, err := ParseHashTag("md5"); err == nil {
		t.Fatalf("expected error for unsupported hash")
	}
	if HashTag(0).Valid() {
		t.Fatalf("zero HashTag must be invalid")
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, h := range allHashes {
		for _, codec := range []CodecTag{CodecRaw, CodecDagCBOR} {
			digest := h.Sum([]byte("payload"))
			s, err := Encode(digest, codec, h)
			if err != nil {
				t.Fatalf("Encode(%s,%s): %v", codec, h, err)
			}
			if s != strings.ToLower(s) {
				t.Fatalf("Encode produced non-lowercase %q", s)
			}
			d, err := Decode(s)
			if err != nil {
				t.Fatalf("Decode(%q): %v", s, err)
			}
			if d.Codec != codec || d.Hash != h || !bytes.Equal(d.Digest, digest) {
				t.Fatalf("Decode mismatch: %+v", d)
			}
			if String(d.Cid) != s {
				t.Fatalf("String(Decode(s))=%q want %q", String(d.Cid), s)
			}
		}
	}
}

func TestDecode_CaseInsensitive(t *testing.T) {
	s := CIDv1RawSHA256([]byte("hello"))
	d, err := Decode(strings.ToUpper(s))
	if err != nil {
		t.Fatalf("Decode(upper): %v", err)
	}
	if String(d.Cid) != s {
		t.Fatalf("upper-case input decoded to %s want %s", d.Cid, s)
	}
}

func TestDecode_OtherCaseInsensitiveBases(t *testing.T) {
	c, err := CIDv1RawSHA256CID([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	want := String(c)
	for _, base := range []multibase.Encoding{multibase.Base16, multibase.Base16Upper, multibase.Base36, multibase.Base32Upper} {
		s, err := c.StringOfBase(base)
		if err != nil {
			t.Fatalf("StringOfBase(%c): %v", base, err)
		}
		d, err := Decode(s)
		if err != nil {
			t.Fatalf("Decode(%q): %v", s, err)
		}
		if String(d.Cid) != want {
			t.Fatalf("Decode(%q) renders %s want %s", s, String(d.Cid), want)
		}
	}
	// base58btc is case-sensitive and stays rejected.
	s, err := c.StringOfBase(multibase.Base58BTC)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(s); !model.IsKind(err, model.KindInvalidCID) {
		t.Fatalf("Decode(base58 %q) err=%v want KindInvalidCID", s, err)
	}
}

func TestCIDv1RawSHA256_EmptyIsWellKnown(t *testing.T) {
	const want = "bafkreihdwdcefgh4dqkjv67uzcmw7ojee6xedzdetojuzjevtenxquvyku"
	if got := CIDv1RawSHA256(nil); got != want {
		t.Fatalf("empty raw CID=%s want %s", got, want)
	}
}

func TestDecode_Invalid(t *testing.T) {
	v0 := "QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n"
	sha1, err := multihash.Sum([]byte("x"), multihash.SHA1, -1)
	if err != nil {
		t.Fatal(err)
	}
	sha1CID := cid.NewCidV1(cid.Raw, sha1).String()
	sha256mh, err := multihash.Sum([]byte("x"), multihash.SHA2_256, -1)
	if err != nil {
		t.Fatal(err)
	}
	dagPB := cid.NewCidV1(cid.DagProtobuf, sha256mh).String()
	valid := CIDv1RawSHA256([]byte("x"))

	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"garbage", "not-a-cid"},
		{"cidv0", v0},
		{"bad base32 char", valid[:10] + "1" + valid[11:]},
		{"truncated", valid[:len(valid)-4]},
		{"unsupported hash", sha1CID},
		{"unsupported codec", dagPB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decode(tt.in)
			if !model.IsKind(err, model.KindInvalidCID) {
				t.Fatalf("Decode(%q) err=%v want KindInvalidCID", tt.in, err)
			}
			if d.Cid.Defined() || d.Digest != nil {
				t.Fatalf("Decode partially succeeded: %+v", d)
			}
		})
	}
}

func TestNew_RejectsBadInputs(t *testing.T) {
	if _, err := New(make([]byte, 20), CodecRaw, HashSHA2_256); !model.IsKind(err, model.KindInvalidCID) {
		t.Fatalf("short digest: %v", err)
	}
	if _, err := New(make([]byte, DigestSize), CodecTag(9), HashSHA2_256); !model.IsKind(err, model.KindInvalidCID) {
		t.Fatalf("bad codec: %v", err)
	}
	if _, err := New(make([]byte, DigestSize), CodecRaw, HashTag(9)); !model.IsKind(err, model.KindInvalidCID) {
		t.Fatalf("bad hash: %v", err)
	}
}

func TestVerify(t *testing.T) {
	for _, h := range allHashes {
		key, err := Digest([]byte("block"), h)
		if err != nil {
			t.Fatal(err)
		}
		ok, err := Verify(key, []byte("block"))
		if err != nil || !ok {
			t.Fatalf("%s: Verify(match)=%v,%v", h, ok, err)
		}
		ok, err = Verify(key, []byte("blocK"))
		if err != nil || ok {
			t.Fatalf("%s: Verify(mismatch)=%v,%v", h, ok, err)
		}
	}
	if _, err := Verify(multihash.Multihash{0x01}, nil); !model.IsKind(err, model.KindInvalidCID) {
		t.Fatalf("malformed key: %v", err)
	}
}

package record

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestIDDeterministic(t *testing.T) {
	tags := Tags{{Name: TagAppName, Value: AppEmail}}
	a := ID("0xAbC", tags, []byte("body"))
	b := ID("0xabc", tags, []byte("body"))
	if a != b {
		t.Fatalf("owner case changed id: %s vs %s", a, b)
	}
	if ID("0xabc", tags, []byte("other")) == a {
		t.Fatal("different data produced the same id")
	}
	if ID("0xabc", Tags{{Name: TagAppName, Value: AppZaps}}, []byte("body")) == a {
		t.Fatal("different tags produced the same id")
	}
	if ID("0xabc", Tags{{Name: "ab", Value: "c"}}, nil) == ID("0xabc", Tags{{Name: "a", Value: "bc"}}, nil) {
		t.Fatal("tag boundaries are ambiguous")
	}
	if len(a) != 52 {
		t.Fatalf("unexpected id length %d", len(a))
	}
}

func TestTags(t *testing.T) {
	tags := Tags{
		{Name: TagRecipient, Value: "a"},
		{Name: TagRecipient, Value: "b"},
		{Name: TagThreadID, Value: "t"},
	}
	if v, ok := tags.Get(TagThreadID); !ok || v != "t" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	if _, ok := tags.Get(TagDeactivates); ok {
		t.Fatal("Get found missing tag")
	}
	if got := tags.Values(TagRecipient); len(got) != 2 {
		t.Fatalf("Values = %v", got)
	}
}

func TestPackRoundTrip(t *testing.T) {
	small := []byte("hello")
	stored, compressed := Pack(small)
	if compressed || !bytes.Equal(stored, small) {
		t.Fatal("small payload should be stored as-is")
	}

	text := bytes.Repeat([]byte("bridgbox message body "), 200)
	stored, compressed = Pack(text)
	if !compressed {
		t.Fatal("repetitive payload should compress")
	}
	restored, err := Unpack(stored, compressed, int64(len(text)))
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if !bytes.Equal(restored, text) {
		t.Fatal("round trip changed data")
	}

	random := make([]byte, 4096)
	_, _ = rand.Read(random)
	stored, compressed = Pack(random)
	if compressed || !bytes.Equal(stored, random) {
		t.Fatal("random payload should be stored as-is")
	}
}

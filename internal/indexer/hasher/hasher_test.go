package hasher

import (
	"strings"
	"testing"
)

func TestDigestKnownVectors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"abc", "abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{
			"two blocks",
			"abcdbcdecdefdefgefghfghighijhijkijkljklmklmnlmnomnopnopq",
			"248d6a61d20638b8e5c026930c3e6039a33ce45964ff2167f6ecedd419db06c1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DigestString(tt.input); got != tt.want {
				t.Errorf("DigestString(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestDigestShape(t *testing.T) {
	got := Digest([]byte("https://example.com/articles/42"))
	if len(got) != Size {
		t.Fatalf("expected %d hex characters, got %d", Size, len(got))
	}
	if strings.ToLower(got) != got {
		t.Errorf("digest must be lowercase, got %s", got)
	}
	if Digest([]byte("https://example.com/articles/42")) != got {
		t.Error("digest is not deterministic")
	}
}

func TestDigestUTF8(t *testing.T) {
	// "That’s" contains a multi-byte apostrophe; the digest covers raw bytes.
	if DigestString("That’s") == DigestString("That's") {
		t.Error("distinct byte sequences produced the same digest")
	}
}

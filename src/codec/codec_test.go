package codec

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatal(err)
	}

	key := DeriveKey("correct horse battery staple", salt, DefaultIterations)

	plaintexts := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("the quick brown fox"),
		bytes.Repeat([]byte{0xAB}, 4096),
	}

	for _, p := range plaintexts {
		blob, err := Encrypt(p, key)
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		got, err := Decrypt(blob, key)
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		if !bytes.Equal(got, p) {
			t.Fatalf("round trip mismatch: got %v, want %v", got, p)
		}
	}
}

func TestEncryptNonceUnique(t *testing.T) {
	salt, _ := GenerateSalt()
	key := DeriveKey("pass", salt, 1000)

	p := []byte("same plaintext")

	b1, _ := Encrypt(p, key)
	b2, _ := Encrypt(p, key)

	if bytes.Equal(b1, b2) {
		t.Fatalf("two encryptions of the same plaintext should differ")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	salt, _ := GenerateSalt()
	key := DeriveKey("passphrase one", salt, 1000)
	otherKey := DeriveKey("passphrase two", salt, 1000)

	blob, err := Encrypt([]byte("secret"), key)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Decrypt(blob, otherKey); !IsIntegrity(err) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
}

func TestDecryptTampered(t *testing.T) {
	salt, _ := GenerateSalt()
	key := DeriveKey("passphrase", salt, 1000)

	blob, err := Encrypt([]byte("secret"), key)
	if err != nil {
		t.Fatal(err)
	}

	// flip one bit in the ciphertext
	blob[len(blob)-1] ^= 0x01

	if _, err := Decrypt(blob, key); !IsIntegrity(err) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}

	// truncated blob
	if _, err := Decrypt(blob[:4], key); !IsIntegrity(err) {
		t.Fatalf("expected IntegrityError for truncated blob, got %v", err)
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	k1 := DeriveKey("passphrase", salt, 2048)
	k2 := DeriveKey("passphrase", salt, 2048)

	if !bytes.Equal(k1, k2) {
		t.Fatalf("identical inputs should derive identical keys")
	}

	k3 := DeriveKey("passphrase", salt, 4096)
	if bytes.Equal(k1, k3) {
		t.Fatalf("different iteration counts should derive different keys")
	}
}

func TestKeyringRotation(t *testing.T) {
	salt, _ := GenerateSalt()

	ring, err := NewKeyring(DeriveKey("original", salt, 1000))
	if err != nil {
		t.Fatal(err)
	}

	if v := ring.ActiveVersion(); v != 1 {
		t.Fatalf("active version should be 1, got %d", v)
	}

	blob1, v1, err := ring.Seal([]byte("first generation"))
	if err != nil {
		t.Fatal(err)
	}
	if v1 != 1 {
		t.Fatalf("sealed under version %d, want 1", v1)
	}

	v2, err := ring.Rotate(DeriveKey("rotated", salt, 1000))
	if err != nil {
		t.Fatal(err)
	}
	if v2 != 2 {
		t.Fatalf("rotated version should be 2, got %d", v2)
	}

	// new writes use the new key
	blob2, sealedV, err := ring.Seal([]byte("second generation"))
	if err != nil {
		t.Fatal(err)
	}
	if sealedV != 2 {
		t.Fatalf("sealed under version %d, want 2", sealedV)
	}

	// old ciphertext remains valid under its original version
	got, err := ring.Open(blob1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "first generation" {
		t.Fatalf("unexpected plaintext: %s", got)
	}

	got, err = ring.Open(blob2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second generation" {
		t.Fatalf("unexpected plaintext: %s", got)
	}

	// wrong version fails
	if _, err := ring.Open(blob2, 1); err == nil {
		t.Fatalf("opening with the wrong version should fail")
	}
	if _, err := ring.Open(blob1, 9); err == nil {
		t.Fatalf("unknown version should fail")
	}
}

func TestKeyringRejectsBadKeyLength(t *testing.T) {
	if _, err := NewKeyring([]byte("short")); err == nil {
		t.Fatalf("short key should be rejected")
	}

	ring, _ := NewKeyring(make([]byte, KeyLen))
	if _, err := ring.Rotate([]byte("short")); err == nil {
		t.Fatalf("short rotation key should be rejected")
	}
}

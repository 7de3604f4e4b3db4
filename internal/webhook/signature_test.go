package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"object":"page","entry":[]}`)
	secret := "app-secret"

	if !VerifySignature(body, sign(body, secret), secret) {
		t.Fatal("valid signature rejected")
	}
	if VerifySignature(body, sign(body, "other-secret"), secret) {
		t.Fatal("signature under wrong secret accepted")
	}
	if VerifySignature(body, "", secret) {
		t.Fatal("missing header accepted")
	}
	if VerifySignature(body, "sha256=", secret) {
		t.Fatal("empty signature accepted")
	}
}

func TestVerifySignatureSingleByteMutation(t *testing.T) {
	t.Parallel()

	body := []byte(`{"object":"whatsapp_business_account"}`)
	secret := "app-secret"
	header := sign(body, secret)

	mutated := make([]byte, len(body))
	copy(mutated, body)
	mutated[0] ^= 0x01

	if VerifySignature(mutated, header, secret) {
		t.Fatal("mutated body accepted")
	}
}

func TestVerifySignatureWithoutPrefix(t *testing.T) {
	t.Parallel()

	body := []byte("payload")
	secret := "s"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	bare := hex.EncodeToString(mac.Sum(nil))

	if !VerifySignature(body, bare, secret) {
		t.Fatal("bare hex signature rejected")
	}
}

func TestVerifySignatureEmptySecretSkips(t *testing.T) {
	t.Parallel()

	if !VerifySignature([]byte("anything"), "sha256=bogus", "") {
		t.Fatal("empty secret should skip verification")
	}
}

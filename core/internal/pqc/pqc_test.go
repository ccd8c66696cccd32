package pqc

import "testing"

func TestKEMEncapsulateDecapsulateAgree(t *testing.T) {
	kem := KEM{}
	pub, priv, err := kem.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if len(pub) != PublicKeySize {
		t.Errorf("len(pub) = %d, want %d", len(pub), PublicKeySize)
	}
	if len(priv) != PrivateKeySize {
		t.Errorf("len(priv) = %d, want %d", len(priv), PrivateKeySize)
	}

	ct, ssEnc, err := kem.Encapsulate(pub)
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}
	if len(ct) != CiphertextSize {
		t.Errorf("len(ct) = %d, want %d", len(ct), CiphertextSize)
	}

	ssDec, err := kem.Decapsulate(priv, ct)
	if err != nil {
		t.Fatalf("Decapsulate: %v", err)
	}
	if len(ssDec) != SharedKeySize || len(ssEnc) != SharedKeySize {
		t.Fatalf("shared secret length mismatch: enc=%d dec=%d want=%d", len(ssEnc), len(ssDec), SharedKeySize)
	}
	for i := range ssEnc {
		if ssEnc[i] != ssDec[i] {
			t.Fatal("encapsulated and decapsulated shared secrets differ")
		}
	}
}

func TestSignerSignVerify(t *testing.T) {
	signer := Signer{}
	pub, priv, err := signer.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	msg := []byte("qsmp handshake transcript")
	sig, err := signer.Sign(priv, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != SignatureSize {
		t.Errorf("len(sig) = %d, want %d", len(sig), SignatureSize)
	}
	if !signer.Verify(pub, msg, sig) {
		t.Error("Verify rejected a genuine signature")
	}
	if signer.Verify(pub, []byte("tampered transcript"), sig) {
		t.Error("Verify accepted a signature over the wrong message")
	}
}

func TestSignerRejectsWrongSizedKey(t *testing.T) {
	signer := Signer{}
	if _, err := signer.Sign([]byte("too short"), []byte("msg")); err == nil {
		t.Error("Sign accepted an undersized private key")
	}
	if signer.Verify([]byte("too short"), []byte("msg"), []byte("sig")) {
		t.Error("Verify accepted an undersized public key")
	}
}

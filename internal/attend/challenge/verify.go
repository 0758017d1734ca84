package challenge

import (
	"crypto/rsa"

	"github.com/NIGHTX-99/SecureAttend/internal/pki"
)

// VerifySignature checks a hex-encoded signature over the canonical bytes of
// ch against the certificate public key.
func VerifySignature(pub *rsa.PublicKey, ch Challenge, sigHex string) error {
	return pki.Verify(pub, CanonicalBytes(ch), sigHex)
}

// VerifyBytes is the generic form used when re-verifying stored attendance
// signatures offline.
func VerifyBytes(pub *rsa.PublicKey, msg []byte, sigHex string) error {
	return pki.Verify(pub, msg, sigHex)
}

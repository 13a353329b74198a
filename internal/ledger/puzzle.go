package ledger

import "golang.org/x/crypto/sha3"

// GeneratePuzzle computes the commitment for a releaser and secret on the
// ledger identified by ledgerID:
//
//	keccak256(releaser ‖ secret ‖ ledgerID)
//
// Both addresses are fixed width, so the packed encoding is unambiguous.
// It is pure and safe to call without a ledger instance.
func GeneratePuzzle(ledgerID, releaser Address, secret []byte) Commitment {
	h := sha3.NewLegacyKeccak256()
	h.Write(releaser[:])
	h.Write(secret)
	h.Write(ledgerID[:])
	var c Commitment
	h.Sum(c[:0])
	return c
}

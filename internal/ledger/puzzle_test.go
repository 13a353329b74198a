package ledger_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/kittykatsky/Remittance/internal/ledger"
)

func TestGeneratePuzzleDeterministic(t *testing.T) {
	f := setup(t, 0)
	a := f.l.GeneratePuzzle(carol, secret)
	b := f.l.GeneratePuzzle(carol, secret)
	assert.Equal(t, a, b)
	assert.Equal(t, ledger.GeneratePuzzle(f.l.ID(), carol, secret), a)
}

func TestGeneratePuzzleDiffersAcrossLedgers(t *testing.T) {
	first := setup(t, 0)
	second := setup(t, 0)
	require.NotEqual(t, first.l.ID(), second.l.ID())
	assert.NotEqual(t, first.l.GeneratePuzzle(carol, secret), second.l.GeneratePuzzle(carol, secret))
}

func TestGeneratePuzzleBindsInputs(t *testing.T) {
	id := addr(0xee)
	base := ledger.GeneratePuzzle(id, carol, secret)
	assert.NotEqual(t, base, ledger.GeneratePuzzle(id, bob, secret))
	assert.NotEqual(t, base, ledger.GeneratePuzzle(id, carol, []byte("other")))
	assert.NotEqual(t, base, ledger.GeneratePuzzle(addr(0xef), carol, secret))
}

func TestGeneratePuzzleLayout(t *testing.T) {
	id := addr(0xee)
	h := sha3.NewLegacyKeccak256()
	h.Write(carol[:])
	h.Write(secret)
	h.Write(id[:])
	want := hex.EncodeToString(h.Sum(nil))

	c := ledger.GeneratePuzzle(id, carol, secret)
	assert.Equal(t, "0x"+want, c.String())
}

func TestParseAddressAndCommitment(t *testing.T) {
	a, err := ledger.ParseAddress("0x00000000000000000000000000000000000000a0")
	require.NoError(t, err)
	assert.Equal(t, owner, a)
	assert.Equal(t, "0x00000000000000000000000000000000000000a0", a.String())

	_, err = ledger.ParseAddress("0x1234")
	assert.Error(t, err)
	_, err = ledger.ParseAddress("zz")
	assert.Error(t, err)

	c := ledger.GeneratePuzzle(a, a, secret)
	parsed, err := ledger.ParseCommitment(c.String())
	require.NoError(t, err)
	assert.Equal(t, c, parsed)
}

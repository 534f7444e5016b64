package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/crypto"
	"github.com/godcoin-go/godcoin/serializer"
)

func mustKeyPair(t *testing.T) crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenKeyPair()
	require.NoError(t, err)
	return kp
}

func TestValidateRejectsZeroThreshold(t *testing.T) {
	a := &Account{
		Permissions: Permissions{Threshold: 0, Keys: []crypto.PublicKey{mustKeyPair(t).Public}},
	}
	assert.Error(t, a.Validate())
}

func TestValidateRejectsThresholdAboveKeyCount(t *testing.T) {
	a := &Account{
		Permissions: Permissions{Threshold: 2, Keys: []crypto.PublicKey{mustKeyPair(t).Public}},
	}
	assert.Error(t, a.Validate())
}

func TestValidateRejectsTooManyKeys(t *testing.T) {
	keys := make([]crypto.PublicKey, MaxPermKeys+1)
	for i := range keys {
		keys[i] = mustKeyPair(t).Public
	}
	a := &Account{Permissions: Permissions{Threshold: 1, Keys: keys}}
	assert.Error(t, a.Validate())
}

func TestValidateRejectsOversizedScript(t *testing.T) {
	a := &Account{
		Permissions: Permissions{Threshold: 1, Keys: []crypto.PublicKey{mustKeyPair(t).Public}},
		Script:      make(Script, MaxScriptByteSize+1),
	}
	assert.Error(t, a.Validate())
}

func TestValidateRejectsDestroyedWithBalance(t *testing.T) {
	a := &Account{
		Balance:     asset.New(1),
		Destroyed:   true,
		Permissions: Permissions{Threshold: 1, Keys: []crypto.PublicKey{mustKeyPair(t).Public}},
	}
	assert.Error(t, a.Validate())
}

func TestValidateAcceptsWellFormedAccount(t *testing.T) {
	a := &Account{
		ID:          1,
		Balance:     asset.New(0),
		Permissions: Permissions{Threshold: 1, Keys: []crypto.PublicKey{mustKeyPair(t).Public}},
	}
	assert.NoError(t, a.Validate())
}

func TestAccountEncodeDecodeRoundTrip(t *testing.T) {
	kp := mustKeyPair(t)
	a := &Account{
		ID:          42,
		Balance:     asset.MustParse("12.3400 GRAEL"),
		Permissions: Permissions{Threshold: 1, Keys: []crypto.PublicKey{kp.Public}},
		Script:      Script{0x01, 0x02, 0x03},
		Destroyed:   false,
	}

	w := serializer.NewWriter(128)
	a.Encode(w)

	r := serializer.NewReader(w.Bytes())
	got, err := Decode(r)
	require.NoError(t, err)
	require.NoError(t, r.Finish())

	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Balance, got.Balance)
	assert.Equal(t, a.Permissions, got.Permissions)
	assert.Equal(t, a.Script, got.Script)
	assert.Equal(t, a.Destroyed, got.Destroyed)
}

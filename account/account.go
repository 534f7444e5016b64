// Package account defines GodCoin's account record: balance, authorization
// permissions and optional script code, plus the multisig permission set
// used by the script engine's OpCheckPerms family.
package account

import (
	"github.com/pkg/errors"

	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/crypto"
	"github.com/godcoin-go/godcoin/serializer"
)

// MaxScriptByteSize bounds the size of an account's authorization script.
const MaxScriptByteSize = 2048

// MaxPermKeys is the largest number of keys a Permissions set may hold.
const MaxPermKeys = 8

// ID is a stable, never-reused account identifier.
type ID uint64

// Permissions is a threshold multisig authorization set.
type Permissions struct {
	Threshold uint8
	Keys      []crypto.PublicKey
}

// Script is an opaque, size-bounded script program.
type Script []byte

// Account is the persistent on-chain record of balance, authorization rules
// and optional script code.
type Account struct {
	ID          ID
	Balance     asset.Asset
	Permissions Permissions
	Script      Script
	Destroyed   bool
}

// Validate checks the structural invariants on Permissions and Script that
// must hold for any account persisted to the index.
func (a *Account) Validate() error {
	if a.Permissions.Threshold < 1 {
		return errors.New("account: permissions threshold must be >= 1")
	}
	if len(a.Permissions.Keys) == 0 || len(a.Permissions.Keys) > MaxPermKeys {
		return errors.Errorf("account: permissions must have 1..=%d keys", MaxPermKeys)
	}
	if int(a.Permissions.Threshold) > len(a.Permissions.Keys) {
		return errors.New("account: threshold exceeds key count")
	}
	if len(a.Script) > MaxScriptByteSize {
		return errors.New("account: script exceeds max byte size")
	}
	if a.Destroyed && a.Balance.Amount != 0 {
		return errors.New("account: destroyed account must have zero balance")
	}
	return nil
}

// Encode appends the canonical encoding of the account to w.
func (a *Account) Encode(w *serializer.Writer) {
	w.PushU64(uint64(a.ID))
	a.Balance.Encode(w)

	w.PushU8(a.Permissions.Threshold)
	w.PushU8(uint8(len(a.Permissions.Keys)))
	for _, k := range a.Permissions.Keys {
		k.Encode(w)
	}

	w.PushBytes(a.Script)
	w.PushBool(a.Destroyed)
}

// Decode reads an Account from r.
func Decode(r *serializer.Reader) (*Account, error) {
	id, err := r.TakeU64()
	if err != nil {
		return nil, err
	}
	bal, err := asset.Decode(r)
	if err != nil {
		return nil, err
	}

	threshold, err := r.TakeU8()
	if err != nil {
		return nil, err
	}
	keyCount, err := r.TakeU8()
	if err != nil {
		return nil, err
	}
	keys := make([]crypto.PublicKey, 0, keyCount)
	for i := uint8(0); i < keyCount; i++ {
		k, err := crypto.DecodePublicKey(r)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	script, err := r.TakeBytes()
	if err != nil {
		return nil, err
	}
	destroyed, err := r.TakeBool()
	if err != nil {
		return nil, err
	}

	return &Account{
		ID:      ID(id),
		Balance: bal,
		Permissions: Permissions{
			Threshold: threshold,
			Keys:      keys,
		},
		Script:    Script(script),
		Destroyed: destroyed,
	}, nil
}

// Clone returns a deep copy so callers can mutate a working copy without
// affecting the indexer's committed value.
func (a *Account) Clone() *Account {
	clone := *a
	clone.Permissions.Keys = append([]crypto.PublicKey(nil), a.Permissions.Keys...)
	clone.Script = append(Script(nil), a.Script...)
	return &clone
}

package script

import (
	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/crypto"
)

// MaxStackDepth bounds the combined height of the evaluation stack.
const MaxStackDepth = 64

// ValueKind tags the concrete type of a stack Value.
type ValueKind int

const (
	KindBool ValueKind = iota
	KindAccountID
	KindAsset
	KindPubKey
	KindScriptHash
)

// Value is a typed item on the script engine's evaluation stack.
type Value struct {
	Kind       ValueKind
	Bool       bool
	AccountID  account.ID
	Asset      asset.Asset
	PubKey     crypto.PublicKey
	ScriptHash crypto.Digest
}

// BoolValue constructs a Bool stack item.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// AccountIDValue constructs an AccountId stack item.
func AccountIDValue(id account.ID) Value { return Value{Kind: KindAccountID, AccountID: id} }

// AssetValue constructs an Asset stack item.
func AssetValue(a asset.Asset) Value { return Value{Kind: KindAsset, Asset: a} }

// PubKeyValue constructs a PublicKey stack item.
func PubKeyValue(k crypto.PublicKey) Value { return Value{Kind: KindPubKey, PubKey: k} }

// ScriptHashValue constructs a ScriptHash stack item.
func ScriptHashValue(h crypto.Digest) Value { return Value{Kind: KindScriptHash, ScriptHash: h} }

// Stack is a bounded-depth typed value stack.
type Stack struct {
	items []Value
}

// NewStack returns an empty stack.
func NewStack() *Stack { return &Stack{items: make([]Value, 0, 16)} }

// Len returns the current stack depth.
func (s *Stack) Len() int { return len(s.items) }

// Push appends v, failing with StackOverflow past MaxStackDepth.
func (s *Stack) Push(v Value) error {
	if len(s.items) >= MaxStackDepth {
		return errKind(KindErrStackOverflow)
	}
	s.items = append(s.items, v)
	return nil
}

func (s *Stack) pop() (Value, error) {
	if len(s.items) == 0 {
		return Value{}, errKind(KindErrInvalidItemOnStack)
	}
	v := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return v, nil
}

// PopBool pops a Bool value, failing InvalidItemOnStack on type mismatch.
func (s *Stack) PopBool() (bool, error) {
	v, err := s.pop()
	if err != nil {
		return false, err
	}
	if v.Kind != KindBool {
		return false, errKind(KindErrInvalidItemOnStack)
	}
	return v.Bool, nil
}

// PopAccountID pops an AccountId value.
func (s *Stack) PopAccountID() (account.ID, error) {
	v, err := s.pop()
	if err != nil {
		return 0, err
	}
	if v.Kind != KindAccountID {
		return 0, errKind(KindErrInvalidItemOnStack)
	}
	return v.AccountID, nil
}

// PopAsset pops an Asset value.
func (s *Stack) PopAsset() (asset.Asset, error) {
	v, err := s.pop()
	if err != nil {
		return asset.Asset{}, err
	}
	if v.Kind != KindAsset {
		return asset.Asset{}, errKind(KindErrInvalidItemOnStack)
	}
	return v.Asset, nil
}

// PopPubKey pops a PublicKey value.
func (s *Stack) PopPubKey() (crypto.PublicKey, error) {
	v, err := s.pop()
	if err != nil {
		return crypto.PublicKey{}, err
	}
	if v.Kind != KindPubKey {
		return crypto.PublicKey{}, errKind(KindErrInvalidItemOnStack)
	}
	return v.PubKey, nil
}

// IsEmpty reports whether the stack has no remaining items.
func (s *Stack) IsEmpty() bool { return len(s.items) == 0 }

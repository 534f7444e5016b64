// Package tx implements GodCoin's transaction model: a tagged union of
// transaction variants sharing a common header, their canonical encoding,
// TxId derivation, and the structural (state-independent) half of
// verification. State-dependent verification (fee schedule, expiry set
// membership, script evaluation against live accounts) lives in the
// blockchain package, which has the index and block log these checks need.
package tx

import (
	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/crypto"
)

// MaxTxSize bounds the encoded size of a transaction.
const MaxTxSize = 1024 * 4

// MaxTxSignatures bounds the number of signature pairs on one transaction.
const MaxTxSignatures = 8

// MaxMemoByteSize bounds a TransferTx's memo field.
const MaxMemoByteSize = 512

// Tag identifies which TxVariant field is populated.
type Tag uint8

const (
	TagMint Tag = iota
	TagReward
	TagTransfer
	TagOwner
	TagAccount
)

// Header carries the fields shared by every transaction variant.
type Header struct {
	TimestampMs    uint64
	Fee            asset.Asset
	SignaturePairs []crypto.SigPair
}

// MintTx mints new supply to an account; requires network-owner multisig.
type MintTx struct {
	To             account.ID
	Amount         asset.Asset
	Attachment     []byte
	AttachmentName string
}

// RewardTx pays block-production rewards; only legal as a block's last
// transaction, synthesized by the producer and never user-submitted.
type RewardTx struct {
	To      account.ID
	Rewards asset.Asset
}

// TransferTx invokes from.Script[CallFn](Args), optionally moving Amount.
type TransferTx struct {
	From   account.ID
	CallFn uint8
	Args   []byte
	Amount asset.Asset
	Memo   []byte
}

// OwnerTx rotates the ledger's root authority to a new minter key/wallet.
type OwnerTx struct {
	MinterKey crypto.PublicKey
	Wallet    account.ID
	Script    account.Script
}

// AccountTx creates a new account funded from an existing one.
type AccountTx struct {
	Creator     account.ID
	NewAccount  account.ID
	Permissions account.Permissions
	Script      account.Script
}

// TxVariant is GodCoin's closed tagged sum of transaction kinds. Exactly
// one of the variant fields is non-nil, selected by Tag; dispatch never
// goes beyond a switch on Tag (no interface-based runtime polymorphism).
type TxVariant struct {
	Header Header
	Tag    Tag

	Mint     *MintTx
	Reward   *RewardTx
	Transfer *TransferTx
	Owner    *OwnerTx
	Account  *AccountTx
}

// AppendSign signs the canonical encoding (with signature pairs emptied)
// and appends the resulting SigPair to the transaction's header.
func (v *TxVariant) AppendSign(kp crypto.KeyPair) {
	buf := v.SigningEncoding()
	sig := kp.Sign(buf)
	v.Header.SignaturePairs = append(v.Header.SignaturePairs, crypto.SigPair{
		PubKey:    kp.Public,
		Signature: sig,
	})
}

// SigningEncoding returns the canonical encoding used as the signed
// message: identical to Encode except SignaturePairs is emptied first.
func (v *TxVariant) SigningEncoding() []byte {
	clone := *v
	clone.Header.SignaturePairs = nil
	w := newWriter()
	clone.encode(w)
	return w.Bytes()
}

// Id is a transaction's double-SHA256 digest, taken over the full signed
// encoding. Unlike SigningEncoding, signature pairs are included: the id is
// only stable once the transaction has been fully assembled and signed.
type Id crypto.Digest

// String renders the id as hex for logging.
func (id Id) String() string { return crypto.Digest(id).String() }

// Id derives the transaction's id from its canonical signed encoding.
func (v *TxVariant) Id() Id {
	w := newWriter()
	v.encode(w)
	return Id(crypto.DoubleSha256(w.Bytes()))
}

// Encode appends the canonical signed encoding of the transaction to w via
// the package-level wire codec in codec.go.

// StructuralErrKind enumerates the state-independent ways a transaction can
// be malformed, checked before it ever reaches account/balance lookups.
type StructuralErrKind int

const (
	// StructuralErrTooLarge covers an encoding over MaxTxSize bytes.
	StructuralErrTooLarge StructuralErrKind = iota
	// StructuralErrTooManySignatures covers more than MaxTxSignatures pairs.
	StructuralErrTooManySignatures
	// StructuralErrNoSignatures covers a transaction with zero signatures.
	StructuralErrNoSignatures
	// StructuralErrExpired covers a timestamp outside the accepted drift window.
	StructuralErrExpired
	// StructuralErrMemoTooLarge covers a TransferTx memo over MaxMemoByteSize.
	StructuralErrMemoTooLarge
)

func (k StructuralErrKind) String() string {
	switch k {
	case StructuralErrTooLarge:
		return "transaction too large"
	case StructuralErrTooManySignatures:
		return "too many signature pairs"
	case StructuralErrNoSignatures:
		return "transaction must be signed"
	case StructuralErrExpired:
		return "timestamp outside accepted drift window"
	case StructuralErrMemoTooLarge:
		return "memo too large"
	default:
		return "unknown structural error"
	}
}

// StructuralErr reports why a transaction failed the state-independent
// checks in CheckStructure.
type StructuralErr struct {
	Kind StructuralErrKind
}

func (e *StructuralErr) Error() string { return "tx: " + e.Kind.String() }

// MaxTimeDriftMs bounds how far a transaction's declared timestamp may lead
// the verifying node's clock, guarding against trivially pre-dated txs.
const MaxTimeDriftMs = 3000

// MaxExpiryMs bounds how far in the past a transaction's timestamp may sit
// before it is considered expired and no longer eligible for inclusion.
const MaxExpiryMs = 60 * 1000

// CheckStructure performs the state-independent half of verification: size,
// signature-count and memo-size bounds, and timestamp drift. nowMs is the
// verifying node's current time in milliseconds, supplied by the caller so
// this stays deterministic and testable.
func (v *TxVariant) CheckStructure(nowMs uint64) error {
	w := newWriter()
	v.encode(w)
	if len(w.Bytes()) > MaxTxSize {
		return &StructuralErr{Kind: StructuralErrTooLarge}
	}
	if len(v.Header.SignaturePairs) == 0 {
		return &StructuralErr{Kind: StructuralErrNoSignatures}
	}
	if len(v.Header.SignaturePairs) > MaxTxSignatures {
		return &StructuralErr{Kind: StructuralErrTooManySignatures}
	}
	if v.Tag == TagTransfer && len(v.Transfer.Memo) > MaxMemoByteSize {
		return &StructuralErr{Kind: StructuralErrMemoTooLarge}
	}

	ts := v.Header.TimestampMs
	if ts > nowMs && ts-nowMs > MaxTimeDriftMs {
		return &StructuralErr{Kind: StructuralErrExpired}
	}
	if ts < nowMs && nowMs-ts > MaxExpiryMs {
		return &StructuralErr{Kind: StructuralErrExpired}
	}
	return nil
}

// SelfAccountID reports the account whose script authorizes this
// transaction — the origin of a TransferTx's call, or the dedicated
// system/owner accounts for the other variants.
func (v *TxVariant) SelfAccountID() account.ID {
	switch v.Tag {
	case TagTransfer:
		return v.Transfer.From
	case TagAccount:
		return v.Account.Creator
	default:
		return 0
	}
}

// DeclaredAmount reports the Amount a TransferTx carries into its script
// invocation, or the zero Asset for variants that don't move funds via a
// script (satisfies script.TxContext).
func (v *TxVariant) DeclaredAmount() asset.Asset {
	if v.Tag == TagTransfer {
		return v.Transfer.Amount
	}
	return asset.Asset{}
}

// SignaturePairs satisfies script.TxContext.
func (v *TxVariant) SignaturePairs() []crypto.SigPair { return v.Header.SignaturePairs }

package tx

import (
	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/crypto"
	"github.com/godcoin-go/godcoin/serializer"
)

func newWriter() *serializer.Writer { return serializer.NewWriter(512) }

// Encode appends the canonical wire encoding of the transaction to w:
// leading tag byte, header, then variant-specific fields.
func (v *TxVariant) Encode(w *serializer.Writer) { v.encode(w) }

func (v *TxVariant) encode(w *serializer.Writer) {
	w.PushU8(uint8(v.Tag))
	encodeHeader(w, v.Header)

	switch v.Tag {
	case TagMint:
		w.PushU64(uint64(v.Mint.To))
		v.Mint.Amount.Encode(w)
		w.PushBytes(v.Mint.Attachment)
		w.PushString(v.Mint.AttachmentName)
	case TagReward:
		w.PushU64(uint64(v.Reward.To))
		v.Reward.Rewards.Encode(w)
	case TagTransfer:
		w.PushU64(uint64(v.Transfer.From))
		w.PushU8(v.Transfer.CallFn)
		w.PushBytes(v.Transfer.Args)
		v.Transfer.Amount.Encode(w)
		w.PushBytes(v.Transfer.Memo)
	case TagOwner:
		v.Owner.MinterKey.Encode(w)
		w.PushU64(uint64(v.Owner.Wallet))
		w.PushBytes(v.Owner.Script)
	case TagAccount:
		w.PushU64(uint64(v.Account.Creator))
		w.PushU64(uint64(v.Account.NewAccount))
		w.PushU8(v.Account.Permissions.Threshold)
		w.PushU8(uint8(len(v.Account.Permissions.Keys)))
		for _, k := range v.Account.Permissions.Keys {
			k.Encode(w)
		}
		w.PushBytes(v.Account.Script)
	}
}

func encodeHeader(w *serializer.Writer, h Header) {
	w.PushU64(h.TimestampMs)
	h.Fee.Encode(w)
	w.PushU8(uint8(len(h.SignaturePairs)))
	for _, sp := range h.SignaturePairs {
		sp.Encode(w)
	}
}

// Decode reads a TxVariant from a raw encoding, failing InvalidTag on an
// out-of-range discriminant and BytesRemaining on trailing bytes.
func Decode(raw []byte) (*TxVariant, error) {
	r := serializer.NewReader(raw)
	v, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeFromReader reads a TxVariant off an already-open Reader shared
// with surrounding fields (the rpc wire format embeds a TxVariant inline
// rather than as a standalone length-prefixed blob), so unlike Decode it
// does not require the reader to be fully consumed afterward.
func DecodeFromReader(r *serializer.Reader) (*TxVariant, error) { return decode(r) }

func decode(r *serializer.Reader) (*TxVariant, error) {
	tagByte, err := r.TakeU8()
	if err != nil {
		return nil, err
	}
	if tagByte > uint8(TagAccount) {
		return nil, serializer.NewErr(serializer.ErrInvalidTag)
	}
	tag := Tag(tagByte)

	header, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}
	if len(header.SignaturePairs) > MaxTxSignatures {
		return nil, serializer.NewErr(serializer.ErrInvalidTag)
	}

	v := &TxVariant{Header: header, Tag: tag}

	switch tag {
	case TagMint:
		to, err := r.TakeU64()
		if err != nil {
			return nil, err
		}
		amt, err := asset.Decode(r)
		if err != nil {
			return nil, err
		}
		attachment, err := r.TakeBytes()
		if err != nil {
			return nil, err
		}
		name, err := r.TakeString()
		if err != nil {
			return nil, err
		}
		v.Mint = &MintTx{To: account.ID(to), Amount: amt, Attachment: attachment, AttachmentName: name}

	case TagReward:
		to, err := r.TakeU64()
		if err != nil {
			return nil, err
		}
		rewards, err := asset.Decode(r)
		if err != nil {
			return nil, err
		}
		v.Reward = &RewardTx{To: account.ID(to), Rewards: rewards}

	case TagTransfer:
		from, err := r.TakeU64()
		if err != nil {
			return nil, err
		}
		callFn, err := r.TakeU8()
		if err != nil {
			return nil, err
		}
		args, err := r.TakeBytes()
		if err != nil {
			return nil, err
		}
		amount, err := asset.Decode(r)
		if err != nil {
			return nil, err
		}
		memo, err := r.TakeBytes()
		if err != nil {
			return nil, err
		}
		v.Transfer = &TransferTx{From: account.ID(from), CallFn: callFn, Args: args, Amount: amount, Memo: memo}

	case TagOwner:
		minterKey, err := crypto.DecodePublicKey(r)
		if err != nil {
			return nil, err
		}
		wallet, err := r.TakeU64()
		if err != nil {
			return nil, err
		}
		script, err := r.TakeBytes()
		if err != nil {
			return nil, err
		}
		v.Owner = &OwnerTx{MinterKey: minterKey, Wallet: account.ID(wallet), Script: account.Script(script)}

	case TagAccount:
		creator, err := r.TakeU64()
		if err != nil {
			return nil, err
		}
		newAccount, err := r.TakeU64()
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
		v.Account = &AccountTx{
			Creator:    account.ID(creator),
			NewAccount: account.ID(newAccount),
			Permissions: account.Permissions{
				Threshold: threshold,
				Keys:      keys,
			},
			Script: account.Script(script),
		}
	}

	return v, nil
}

func decodeHeader(r *serializer.Reader) (Header, error) {
	ts, err := r.TakeU64()
	if err != nil {
		return Header{}, err
	}
	fee, err := asset.Decode(r)
	if err != nil {
		return Header{}, err
	}
	sigCount, err := r.TakeU8()
	if err != nil {
		return Header{}, err
	}
	pairs := make([]crypto.SigPair, 0, sigCount)
	for i := uint8(0); i < sigCount; i++ {
		sp, err := crypto.DecodeSigPair(r)
		if err != nil {
			return Header{}, err
		}
		pairs = append(pairs, sp)
	}
	return Header{TimestampMs: ts, Fee: fee, SignaturePairs: pairs}, nil
}

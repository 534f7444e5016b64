package tx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/crypto"
	"github.com/godcoin-go/godcoin/serializer"
)

func mustKP(t *testing.T) crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenKeyPair()
	require.NoError(t, err)
	return kp
}

func sampleTransfer(t *testing.T) *TxVariant {
	return &TxVariant{
		Tag: TagTransfer,
		Header: Header{
			TimestampMs: 1000,
			Fee:         asset.MustParse("0.0010 GRAEL"),
		},
		Transfer: &TransferTx{
			From:   1,
			CallFn: 0,
			Args:   []byte{1, 2, 3},
			Amount: asset.MustParse("5.0000 GRAEL"),
			Memo:   []byte("hi"),
		},
	}
}

func TestAppendSignAndId(t *testing.T) {
	kp := mustKP(t)
	v := sampleTransfer(t)
	v.AppendSign(kp)

	require.Len(t, v.Header.SignaturePairs, 1)
	sig := v.Header.SignaturePairs[0]
	assert.Equal(t, kp.Public, sig.PubKey)
	assert.True(t, sig.PubKey.Verify(v.SigningEncoding(), sig.Signature))

	id1 := v.Id()
	id2 := v.Id()
	assert.Equal(t, id1, id2)
}

func TestEncodeDecodeRoundTripAllTags(t *testing.T) {
	kp := mustKP(t)

	variants := []*TxVariant{
		{
			Tag:    TagMint,
			Header: Header{TimestampMs: 1, Fee: asset.New(0)},
			Mint: &MintTx{
				To:             2,
				Amount:         asset.MustParse("10.0000 GRAEL"),
				Attachment:     []byte("data"),
				AttachmentName: "file.txt",
			},
		},
		{
			Tag:    TagReward,
			Header: Header{TimestampMs: 2, Fee: asset.New(0)},
			Reward: &RewardTx{To: 3, Rewards: asset.MustParse("1.0000 GRAEL")},
		},
		sampleTransfer(t),
		{
			Tag:    TagOwner,
			Header: Header{TimestampMs: 3, Fee: asset.New(0)},
			Owner: &OwnerTx{
				MinterKey: kp.Public,
				Wallet:    4,
				Script:    account.Script{9, 9},
			},
		},
		{
			Tag:    TagAccount,
			Header: Header{TimestampMs: 4, Fee: asset.New(0)},
			Account: &AccountTx{
				Creator:     5,
				NewAccount:  6,
				Permissions: account.Permissions{Threshold: 1, Keys: []crypto.PublicKey{kp.Public}},
				Script:      account.Script{1},
			},
		},
	}

	for _, v := range variants {
		v.AppendSign(kp)
		w := serializer.NewWriter(256)
		v.Encode(w)

		got, err := Decode(w.Bytes())
		require.NoError(t, err)
		assert.Equal(t, v.Tag, got.Tag)
		assert.Equal(t, v.Header.TimestampMs, got.Header.TimestampMs)
		assert.Equal(t, v.Id(), got.Id())
	}
}

func TestDecodeRejectsInvalidTag(t *testing.T) {
	w := serializer.NewWriter(8)
	w.PushU8(255)
	_, err := Decode(w.Bytes())
	require.Error(t, err)
	serr, ok := err.(*serializer.Error)
	require.True(t, ok)
	assert.Equal(t, serializer.ErrInvalidTag, serr.Kind)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	kp := mustKP(t)
	v := sampleTransfer(t)
	v.AppendSign(kp)

	w := serializer.NewWriter(256)
	v.Encode(w)
	raw := append(w.Bytes(), 0xFF)

	_, err := Decode(raw)
	require.Error(t, err)
	serr, ok := err.(*serializer.Error)
	require.True(t, ok)
	assert.Equal(t, serializer.ErrBytesRemaining, serr.Kind)
}

func TestDecodeFromReaderAllowsTrailingBytes(t *testing.T) {
	kp := mustKP(t)
	v := sampleTransfer(t)
	v.AppendSign(kp)

	w := serializer.NewWriter(256)
	v.Encode(w)
	w.PushU8(0xAB)

	r := serializer.NewReader(w.Bytes())
	got, err := DecodeFromReader(r)
	require.NoError(t, err)
	assert.Equal(t, v.Tag, got.Tag)

	trailing, err := r.TakeU8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xAB), trailing)
}

func TestCheckStructureRejectsNoSignatures(t *testing.T) {
	v := sampleTransfer(t)
	err := v.CheckStructure(1000)
	require.Error(t, err)
	serr, ok := err.(*StructuralErr)
	require.True(t, ok)
	assert.Equal(t, StructuralErrNoSignatures, serr.Kind)
}

func TestCheckStructureRejectsTooManySignatures(t *testing.T) {
	kp := mustKP(t)
	v := sampleTransfer(t)
	for i := 0; i < MaxTxSignatures+1; i++ {
		v.AppendSign(kp)
	}
	err := v.CheckStructure(1000)
	require.Error(t, err)
	assert.Equal(t, StructuralErrTooManySignatures, err.(*StructuralErr).Kind)
}

func TestCheckStructureRejectsOversizedMemo(t *testing.T) {
	kp := mustKP(t)
	v := sampleTransfer(t)
	v.Transfer.Memo = make([]byte, MaxMemoByteSize+1)
	v.AppendSign(kp)
	err := v.CheckStructure(1000)
	require.Error(t, err)
	assert.Equal(t, StructuralErrMemoTooLarge, err.(*StructuralErr).Kind)
}

func TestCheckStructureRejectsExpiredTimestamp(t *testing.T) {
	kp := mustKP(t)
	v := sampleTransfer(t)
	v.Header.TimestampMs = 1000
	v.AppendSign(kp)

	err := v.CheckStructure(1000 + MaxExpiryMs + 1)
	require.Error(t, err)
	assert.Equal(t, StructuralErrExpired, err.(*StructuralErr).Kind)
}

func TestCheckStructureRejectsFutureTimestamp(t *testing.T) {
	kp := mustKP(t)
	v := sampleTransfer(t)
	v.Header.TimestampMs = 10_000
	v.AppendSign(kp)

	err := v.CheckStructure(10_000 - MaxTimeDriftMs - 1)
	require.Error(t, err)
	assert.Equal(t, StructuralErrExpired, err.(*StructuralErr).Kind)
}

func TestCheckStructureAcceptsWellFormedTx(t *testing.T) {
	kp := mustKP(t)
	v := sampleTransfer(t)
	v.Header.TimestampMs = 10_000
	v.AppendSign(kp)
	assert.NoError(t, v.CheckStructure(10_000))
}

func TestSelfAccountIDByTag(t *testing.T) {
	v := sampleTransfer(t)
	assert.Equal(t, account.ID(1), v.SelfAccountID())

	acc := &TxVariant{Tag: TagAccount, Account: &AccountTx{Creator: 7}}
	assert.Equal(t, account.ID(7), acc.SelfAccountID())

	mint := &TxVariant{Tag: TagMint, Mint: &MintTx{}}
	assert.Equal(t, account.ID(0), mint.SelfAccountID())
}

func TestDeclaredAmountOnlyForTransfer(t *testing.T) {
	v := sampleTransfer(t)
	assert.Equal(t, v.Transfer.Amount, v.DeclaredAmount())

	mint := &TxVariant{Tag: TagMint, Mint: &MintTx{}}
	assert.Equal(t, asset.Asset{}, mint.DeclaredAmount())
}

func TestCalcTxMerkleRootEmptyAndSingle(t *testing.T) {
	assert.Equal(t, crypto.Digest{}, CalcTxMerkleRoot(nil))

	kp := mustKP(t)
	v := sampleTransfer(t)
	v.AppendSign(kp)
	assert.Equal(t, crypto.Digest(v.Id()), CalcTxMerkleRoot([]*TxVariant{v}))
}

func TestCalcTxMerkleRootDependsOnTxOrder(t *testing.T) {
	kp := mustKP(t)
	a := sampleTransfer(t)
	a.AppendSign(kp)
	b := sampleTransfer(t)
	b.Transfer.Amount = asset.MustParse("9.0000 GRAEL")
	b.AppendSign(kp)

	root1 := CalcTxMerkleRoot([]*TxVariant{a, b})
	root2 := CalcTxMerkleRoot([]*TxVariant{b, a})
	assert.NotEqual(t, root1, root2)
}

func TestSignedBlockEncodeDecodeRoundTrip(t *testing.T) {
	kp := mustKP(t)
	v := sampleTransfer(t)
	v.AppendSign(kp)

	blk := Block{
		Height:       1,
		PreviousHash: crypto.Digest{1, 2, 3},
		TimestampMs:  5000,
		TxMerkleRoot: CalcTxMerkleRoot([]*TxVariant{v}),
		Transactions: []*TxVariant{v},
	}
	sb := SignWith(blk, kp)

	w := serializer.NewWriter(512)
	sb.Encode(w)

	r := serializer.NewReader(w.Bytes())
	got, err := DecodeSignedBlock(r)
	require.NoError(t, err)
	require.NoError(t, r.Finish())

	assert.Equal(t, sb.Block.Height, got.Block.Height)
	assert.Equal(t, sb.Block.PreviousHash, got.Block.PreviousHash)
	assert.Equal(t, sb.Block.TxMerkleRoot, got.Block.TxMerkleRoot)
	assert.Equal(t, sb.SigPair, got.SigPair)
	require.Len(t, got.Block.Transactions, 1)
	assert.Equal(t, v.Id(), got.Block.Transactions[0].Id())

	assert.True(t, got.SigPair.PubKey.Verify(func() []byte {
		w := serializer.NewWriter(512)
		got.Block.Encode(w)
		return w.Bytes()
	}(), got.SigPair.Signature))
}

func TestReceiptEncodeDecodeRoundTrip(t *testing.T) {
	kp := mustKP(t)
	v := sampleTransfer(t)
	v.AppendSign(kp)

	rc := Receipt{
		TxId: v.Id(),
		Log: []LogEntry{
			{Kind: LogTransfer, To: 2, Amount: asset.MustParse("1.0000 GRAEL")},
			{Kind: LogDestroy, To: 2, Sink: 3},
		},
	}

	w := serializer.NewWriter(128)
	rc.Encode(w)

	r := serializer.NewReader(w.Bytes())
	got, err := DecodeReceipt(r)
	require.NoError(t, err)
	require.NoError(t, r.Finish())
	assert.Equal(t, rc, got)
}

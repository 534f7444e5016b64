package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/crypto"
	"github.com/godcoin-go/godcoin/tx"
)

func mustKP(t *testing.T) crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenKeyPair()
	require.NoError(t, err)
	return kp
}

func openIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idx")
	idx, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestBlockPosRoundTrip(t *testing.T) {
	idx := openIndex(t)

	b := NewBatch()
	b.PutBlockPos(1, 128)
	require.NoError(t, idx.Commit(b))

	pos, err := idx.GetBlockPos(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(128), pos)
}

func TestGetBlockPosMissingErrors(t *testing.T) {
	idx := openIndex(t)
	_, err := idx.GetBlockPos(99)
	assert.Error(t, err)
}

func TestAccountRoundTrip(t *testing.T) {
	idx := openIndex(t)
	kp := mustKP(t)
	acc := &account.Account{
		ID:          3,
		Balance:     asset.MustParse("1.0000 GRAEL"),
		Permissions: account.Permissions{Threshold: 1, Keys: []crypto.PublicKey{kp.Public}},
	}

	b := NewBatch()
	b.PutAccount(acc)
	require.NoError(t, idx.Commit(b))

	got, ok, err := idx.GetAccount(3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, acc.Balance, got.Balance)

	_, ok, err = idx.GetAccount(4)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSingletonsRoundTrip(t *testing.T) {
	idx := openIndex(t)
	b := NewBatch()
	b.PutChainHeight(42)
	b.PutTokenSupply(asset.MustParse("100.0000 GRAEL"))
	b.PutStatus(StatusComplete)
	require.NoError(t, idx.Commit(b))

	height, err := idx.GetChainHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), height)

	supply, err := idx.GetTokenSupply()
	require.NoError(t, err)
	assert.Equal(t, "100.0000 GRAEL", supply.String())

	status, err := idx.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status)
}

func TestGetStatusDefaultsToNone(t *testing.T) {
	idx := openIndex(t)
	status, err := idx.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, StatusNone, status)
}

func TestReceiptsRoundTrip(t *testing.T) {
	idx := openIndex(t)
	kp := mustKP(t)
	v := &tx.TxVariant{
		Tag:    tx.TagTransfer,
		Header: tx.Header{TimestampMs: 1, Fee: asset.New(0)},
		Transfer: &tx.TransferTx{
			From:   1,
			Amount: asset.MustParse("1.0000 GRAEL"),
		},
	}
	v.AppendSign(kp)

	receipts := []tx.Receipt{{TxId: v.Id(), Log: []tx.LogEntry{{Kind: tx.LogTransfer, To: 2, Amount: asset.New(1)}}}}

	b := NewBatch()
	b.PutReceipts(5, receipts)
	require.NoError(t, idx.Commit(b))

	got, err := idx.GetReceipts(5)
	require.NoError(t, err)
	assert.Equal(t, receipts, got)
}

func TestTxExpiryKnownAndPurge(t *testing.T) {
	idx := openIndex(t)
	kp := mustKP(t)
	v := &tx.TxVariant{
		Tag:      tx.TagTransfer,
		Header:   tx.Header{TimestampMs: 1, Fee: asset.New(0)},
		Transfer: &tx.TransferTx{From: 1, Amount: asset.New(1)},
	}
	v.AppendSign(kp)
	id := v.Id()

	known, err := idx.IsTxIdKnown(id)
	require.NoError(t, err)
	assert.False(t, known)

	b := NewBatch()
	b.PutTxExpiry(id, 1000)
	require.NoError(t, idx.Commit(b))

	known, err = idx.IsTxIdKnown(id)
	require.NoError(t, err)
	assert.True(t, known)

	require.NoError(t, idx.PurgeExpiredTxIds(1000+TxExpiryAdjustment+1))

	known, err = idx.IsTxIdKnown(id)
	require.NoError(t, err)
	assert.False(t, known)
}

func TestPurgeExpiredTxIdsSkipsUnexpired(t *testing.T) {
	idx := openIndex(t)
	kp := mustKP(t)
	v := &tx.TxVariant{
		Tag:      tx.TagTransfer,
		Header:   tx.Header{TimestampMs: 1, Fee: asset.New(0)},
		Transfer: &tx.TransferTx{From: 1, Amount: asset.New(1)},
	}
	v.AppendSign(kp)
	id := v.Id()

	b := NewBatch()
	b.PutTxExpiry(id, 1_000_000)
	require.NoError(t, idx.Commit(b))

	require.NoError(t, idx.PurgeExpiredTxIds(1000))

	known, err := idx.IsTxIdKnown(id)
	require.NoError(t, err)
	assert.True(t, known)
}

func TestNetworkOwnerRoundTrip(t *testing.T) {
	idx := openIndex(t)
	kp := mustKP(t)
	owner := &tx.TxVariant{
		Tag:    tx.TagOwner,
		Header: tx.Header{TimestampMs: 1, Fee: asset.New(0)},
		Owner: &tx.OwnerTx{
			MinterKey: kp.Public,
			Wallet:    1,
		},
	}
	owner.AppendSign(kp)

	b := NewBatch()
	b.PutNetworkOwner(owner)
	require.NoError(t, idx.Commit(b))

	got, err := idx.GetNetworkOwner()
	require.NoError(t, err)
	assert.Equal(t, owner.Id(), got.Id())
}

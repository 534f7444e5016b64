package blockchain

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

const nowMs uint64 = 1_000_000

func mustKP(t *testing.T) crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenKeyPair()
	require.NoError(t, err)
	return kp
}

func openChain(t *testing.T) *Chain {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "blocks"), filepath.Join(dir, "index"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func genesisChain(t *testing.T) (*Chain, crypto.KeyPair, account.ID) {
	t.Helper()
	c := openChain(t)
	minter := mustKP(t)
	owner := account.ID(1)
	require.NoError(t, c.CreateGenesisBlock(minter, owner, asset.MustParse("1000.0000 GRAEL")))
	return c, minter, owner
}

func TestCreateGenesisBlockSetsProperties(t *testing.T) {
	c, minter, owner := genesisChain(t)

	props, err := c.GetProperties()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), props.Height)
	assert.Equal(t, "1000.0000 GRAEL", props.TokenSupply.String())
	assert.Equal(t, minter.Public, props.Owner.Owner.MinterKey)

	acc, ok, err := c.GetAccount(owner)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1000.0000 GRAEL", acc.Balance.String())
}

func accountTxBlock(t *testing.T, c *Chain, minter crypto.KeyPair, prevHash crypto.Digest, height uint64, creator, newAcc account.ID, newKey crypto.PublicKey) *tx.SignedBlock {
	t.Helper()
	v := &tx.TxVariant{
		Tag: tx.TagAccount,
		Header: tx.Header{
			TimestampMs: nowMs,
			Fee:         asset.MustParse("100.0000 GRAEL"),
		},
		Account: &tx.AccountTx{
			Creator:     creator,
			NewAccount:  newAcc,
			Permissions: account.Permissions{Threshold: 1, Keys: []crypto.PublicKey{newKey}},
		},
	}
	v.AppendSign(minter)

	blk := tx.Block{
		Height:       height,
		PreviousHash: prevHash,
		TimestampMs:  nowMs,
		Transactions: []*tx.TxVariant{v},
	}
	blk.TxMerkleRoot = tx.CalcTxMerkleRoot(blk.Transactions)
	return tx.SignWith(blk, minter)
}

func transferTxBlock(t *testing.T, minter crypto.KeyPair, prevHash crypto.Digest, height uint64, from, to account.ID, amount asset.Asset) *tx.SignedBlock {
	t.Helper()
	w := encodeAccountID(to)
	v := &tx.TxVariant{
		Tag: tx.TagTransfer,
		Header: tx.Header{
			TimestampMs: nowMs,
			Fee:         asset.MustParse("100.0000 GRAEL"),
		},
		Transfer: &tx.TransferTx{
			From:   from,
			CallFn: 0,
			Args:   w,
			Amount: amount,
		},
	}
	v.AppendSign(minter)

	blk := tx.Block{
		Height:       height,
		PreviousHash: prevHash,
		TimestampMs:  nowMs,
		Transactions: []*tx.TxVariant{v},
	}
	blk.TxMerkleRoot = tx.CalcTxMerkleRoot(blk.Transactions)
	return tx.SignWith(blk, minter)
}

func encodeAccountID(id account.ID) []byte {
	return []byte{
		byte(id >> 56), byte(id >> 48), byte(id >> 40), byte(id >> 32),
		byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id),
	}
}

func tipHash(t *testing.T, c *Chain) crypto.Digest {
	t.Helper()
	props, err := c.GetProperties()
	require.NoError(t, err)
	sb, _, err := c.GetBlock(props.Height)
	require.NoError(t, err)
	return sb.Block.Hash()
}

func TestInsertBlockAccountAndTransferHappyPath(t *testing.T) {
	c, minter, owner := genesisChain(t)
	newKey := mustKP(t).Public

	sb2 := accountTxBlock(t, c, minter, tipHash(t, c), 2, owner, 2, newKey)
	require.NoError(t, c.InsertBlock(sb2, nowMs))

	acc2, ok, err := c.GetAccount(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, asset.New(0), acc2.Balance)

	sb3 := transferTxBlock(t, minter, tipHash(t, c), 3, owner, 2, asset.MustParse("50.0000 GRAEL"))
	require.NoError(t, c.InsertBlock(sb3, nowMs))

	acc2, ok, err = c.GetAccount(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "50.0000 GRAEL", acc2.Balance.String())

	ownerAcc, ok, err := c.GetAccount(owner)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "750.0000 GRAEL", ownerAcc.Balance.String())

	props, err := c.GetProperties()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), props.Height)
}

func TestInsertBlockRejectsWrongHeight(t *testing.T) {
	c, minter, owner := genesisChain(t)
	newKey := mustKP(t).Public

	sb := accountTxBlock(t, c, minter, tipHash(t, c), 5, owner, 2, newKey)
	err := c.InsertBlock(sb, nowMs)
	require.Error(t, err)
	berr, ok := err.(*BlockErr)
	require.True(t, ok)
	assert.Equal(t, BlockErrInvalidHeight, berr.Kind)
}

func TestInsertBlockRejectsWrongPrevHash(t *testing.T) {
	c, minter, owner := genesisChain(t)
	newKey := mustKP(t).Public

	sb := accountTxBlock(t, c, minter, crypto.Digest{0xAB}, 2, owner, 2, newKey)
	err := c.InsertBlock(sb, nowMs)
	require.Error(t, err)
	berr, ok := err.(*BlockErr)
	require.True(t, ok)
	assert.Equal(t, BlockErrInvalidPrevHash, berr.Kind)
}

func TestInsertBlockRejectsBadSignature(t *testing.T) {
	c, minter, owner := genesisChain(t)
	newKey := mustKP(t).Public
	impostor := mustKP(t)

	sb := accountTxBlock(t, c, minter, tipHash(t, c), 2, owner, 2, newKey)
	sb.SigPair = crypto.SigPair{PubKey: impostor.Public, Signature: impostor.Sign([]byte("garbage"))}

	err := c.InsertBlock(sb, nowMs)
	require.Error(t, err)
	berr, ok := err.(*BlockErr)
	require.True(t, ok)
	assert.Equal(t, BlockErrInvalidSignature, berr.Kind)
}

func TestInsertBlockRejectsBadMerkleRoot(t *testing.T) {
	c, minter, owner := genesisChain(t)
	newKey := mustKP(t).Public

	v := &tx.TxVariant{
		Tag: tx.TagAccount,
		Header: tx.Header{
			TimestampMs: nowMs,
			Fee:         asset.MustParse("100.0000 GRAEL"),
		},
		Account: &tx.AccountTx{
			Creator:     owner,
			NewAccount:  2,
			Permissions: account.Permissions{Threshold: 1, Keys: []crypto.PublicKey{newKey}},
		},
	}
	v.AppendSign(minter)

	blk := tx.Block{
		Height:       2,
		PreviousHash: tipHash(t, c),
		TimestampMs:  nowMs,
		Transactions: []*tx.TxVariant{v},
		TxMerkleRoot: crypto.Digest{0xFF},
	}
	sb := tx.SignWith(blk, minter)

	err := c.InsertBlock(sb, nowMs)
	require.Error(t, err)
	berr, ok := err.(*BlockErr)
	require.True(t, ok)
	assert.Equal(t, BlockErrBadMerkleRoot, berr.Kind)
}

func TestInsertBlockRejectsDuplicateTxId(t *testing.T) {
	c, minter, owner := genesisChain(t)
	newKey := mustKP(t).Public

	sb2 := accountTxBlock(t, c, minter, tipHash(t, c), 2, owner, 2, newKey)
	require.NoError(t, c.InsertBlock(sb2, nowMs))

	// replay the exact same transaction at the next height
	dupe := sb2.Block.Transactions[0]
	blk := tx.Block{
		Height:       3,
		PreviousHash: tipHash(t, c),
		TimestampMs:  nowMs,
		Transactions: []*tx.TxVariant{dupe},
	}
	blk.TxMerkleRoot = tx.CalcTxMerkleRoot(blk.Transactions)
	sb3 := tx.SignWith(blk, minter)

	err := c.InsertBlock(sb3, nowMs)
	require.Error(t, err)
	berr, ok := err.(*BlockErr)
	require.True(t, ok)
	assert.Equal(t, BlockErrTx, berr.Kind)
}

func TestDryRunDoesNotMutateCommittedState(t *testing.T) {
	c, minter, owner := genesisChain(t)
	newKey := mustKP(t).Public

	v := &tx.TxVariant{
		Tag: tx.TagAccount,
		Header: tx.Header{
			TimestampMs: nowMs,
			Fee:         asset.MustParse("100.0000 GRAEL"),
		},
		Account: &tx.AccountTx{
			Creator:     owner,
			NewAccount:  2,
			Permissions: account.Permissions{Threshold: 1, Keys: []crypto.PublicKey{newKey}},
		},
	}
	v.AppendSign(minter)

	rc, touched, err := c.DryRun(v, 2, nowMs, nil)
	require.NoError(t, err)
	assert.Equal(t, v.Id(), rc.TxId)
	assert.Contains(t, touched, owner)

	_, ok, err := c.GetAccount(2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNextHeightAndIsTxIdKnown(t *testing.T) {
	c, minter, owner := genesisChain(t)
	newKey := mustKP(t).Public

	h, err := c.NextHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h)

	sb2 := accountTxBlock(t, c, minter, tipHash(t, c), 2, owner, 2, newKey)
	txID := sb2.Block.Transactions[0].Id()

	known, err := c.IsTxIdKnown(txID)
	require.NoError(t, err)
	assert.False(t, known)

	require.NoError(t, c.InsertBlock(sb2, nowMs))

	known, err = c.IsTxIdKnown(txID)
	require.NoError(t, err)
	assert.True(t, known)
}

func TestReindexReproducesCommittedState(t *testing.T) {
	c, minter, owner := genesisChain(t)
	newKey := mustKP(t).Public

	sb2 := accountTxBlock(t, c, minter, tipHash(t, c), 2, owner, 2, newKey)
	require.NoError(t, c.InsertBlock(sb2, nowMs))
	sb3 := transferTxBlock(t, minter, tipHash(t, c), 3, owner, 2, asset.MustParse("50.0000 GRAEL"))
	require.NoError(t, c.InsertBlock(sb3, nowMs))

	beforeOwner, _, err := c.GetAccount(owner)
	require.NoError(t, err)
	beforeAcc2, _, err := c.GetAccount(2)
	require.NoError(t, err)
	beforeProps, err := c.GetProperties()
	require.NoError(t, err)

	require.NoError(t, c.Reindex())

	afterOwner, _, err := c.GetAccount(owner)
	require.NoError(t, err)
	afterAcc2, _, err := c.GetAccount(2)
	require.NoError(t, err)
	afterProps, err := c.GetProperties()
	require.NoError(t, err)

	assert.Equal(t, beforeOwner.Balance, afterOwner.Balance)
	assert.Equal(t, beforeAcc2.Balance, afterAcc2.Balance)
	assert.Equal(t, beforeProps.Height, afterProps.Height)
	assert.Equal(t, beforeProps.TokenSupply, afterProps.TokenSupply)
}

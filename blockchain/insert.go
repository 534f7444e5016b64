package blockchain

import (
	"github.com/pkg/errors"

	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/index"
	"github.com/godcoin-go/godcoin/serializer"
	"github.com/godcoin-go/godcoin/tx"
)

// InsertBlock verifies sb against the current tip and, if it extends the
// chain validly, applies its transactions and commits the result
// atomically to the index and block log. nowMs is the verifying node's
// current time, used for each transaction's expiry check.
func (c *Chain) InsertBlock(sb *tx.SignedBlock, nowMs uint64) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	height, err := c.idx.GetChainHeight()
	if err != nil {
		return err
	}
	if sb.Block.Height != height+1 {
		return newBlockErr(BlockErrInvalidHeight)
	}

	tipPos, err := c.idx.GetBlockPos(height)
	if err != nil {
		return err
	}
	tip, err := c.bl.ReadAt(int64(tipPos), height)
	if err != nil {
		return err
	}
	if sb.Block.PreviousHash != tip.Block.Hash() {
		return newBlockErr(BlockErrInvalidPrevHash)
	}

	owner, err := c.idx.GetNetworkOwner()
	if err != nil {
		return err
	}
	w := serializer.NewWriter(256)
	sb.Block.Encode(w)
	if !owner.Owner.MinterKey.Verify(w.Bytes(), sb.SigPair.Signature) || sb.SigPair.PubKey != owner.Owner.MinterKey {
		return newBlockErr(BlockErrInvalidSignature)
	}

	if sb.Block.TxMerkleRoot != tx.CalcTxMerkleRoot(sb.Block.Transactions) {
		return newBlockErr(BlockErrBadMerkleRoot)
	}

	if sb.Block.TimestampMs > nowMs && sb.Block.TimestampMs-nowMs > MaxTimeDriftForBlockMs {
		return newBlockErr(BlockErrInvalidHeight)
	}

	ov := newOverlay(indexAccountSource(c.idx))
	receipts := make([]tx.Receipt, 0, len(sb.Block.Transactions))
	receiptsByAccount := make(map[account.ID]int)
	totalFees := asset.New(0)

	txs := sb.Block.Transactions
	n := len(txs)
	if n > 0 && txs[n-1].Tag == tx.TagReward {
		n--
	}

	for i := 0; i < n; i++ {
		v := txs[i]
		if v.Tag == tx.TagReward {
			return newBlockErrCause(BlockErrTx, errors.New("reward tx only legal as the block's last transaction"))
		}
		rc, fee, err := c.verifyAndApplyTx(ov, v, sb.Block.Height, nowMs)
		if err != nil {
			return newBlockErrCause(BlockErrTx, err)
		}
		receipts = append(receipts, rc)
		receiptsByAccount[v.SelfAccountID()]++
		if added, ok := totalFees.Add(fee); ok {
			totalFees = added
		}
	}

	supply, err := c.idx.GetTokenSupply()
	if err != nil {
		return err
	}
	mintedThisBlock := asset.New(0)
	for i := 0; i < n; i++ {
		if txs[i].Tag == tx.TagMint {
			if added, ok := mintedThisBlock.Add(txs[i].Mint.Amount); ok {
				mintedThisBlock = added
			}
		}
	}
	if mintedThisBlock.Amount != 0 {
		if newSupply, ok := supply.Add(mintedThisBlock); ok {
			supply = newSupply
		}
	}

	if n < len(txs) {
		rewardTx := txs[n]
		rewardAcc, ok, err := ov.get(rewardTx.Reward.To)
		if err != nil || !ok {
			return newBlockErrCause(BlockErrTx, newTxErr(TxErrAccountNotFound))
		}
		if rewardTx.Reward.Rewards.Amount != totalFees.Amount {
			return newBlockErr(BlockErrFeeMismatch)
		}
		newBal, ok := rewardAcc.Balance.Add(rewardTx.Reward.Rewards)
		if !ok {
			return newBlockErrCause(BlockErrTx, newTxErr(TxErrInvalidAmount))
		}
		rewardAcc.Balance = newBal
		ov.put(rewardAcc)
		receipts = append(receipts, tx.Receipt{TxId: rewardTx.Id()})
		receiptsByAccount[rewardTx.Reward.To]++
	}

	pos, err := c.bl.Append(sb.Block.Height, sb)
	if err != nil {
		return err
	}

	batch := index.NewBatch()
	batch.PutBlockPos(sb.Block.Height, uint64(pos))
	for _, acc := range ov.pending {
		batch.PutAccount(acc)
	}
	for _, v := range txs {
		batch.PutTxExpiry(v.Id(), v.Header.TimestampMs+tx.MaxExpiryMs)
	}
	batch.PutReceipts(sb.Block.Height, receipts)
	if mintedThisBlock.Amount != 0 {
		batch.PutTokenSupply(supply)
	}
	if ov.newOwner != nil {
		batch.PutNetworkOwner(ov.newOwner)
	}
	batch.PutStatus(index.StatusComplete)
	batch.PutChainHeight(sb.Block.Height)

	if err := c.idx.Commit(batch); err != nil {
		return err
	}

	c.fees.recordBlock(sb.Block.Height, receiptsByAccount, len(receipts))
	log.Debugf("inserted block %d: %d transactions, %s total fees", sb.Block.Height, len(txs), totalFees)
	return nil
}

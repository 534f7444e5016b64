// Package blockchain implements GodCoin's state machine: genesis creation,
// block insertion (structural + state-dependent transaction verification,
// script evaluation, account mutation), reindexing from an intact block
// log, and the read APIs the rest of the node needs. Writes are serialized
// behind a single exclusive lock while reads take a shared lock, the same
// single-writer/concurrent-reader discipline the teacher's BlockDAG uses
// around its dagLock (blockdag/dag.go).
package blockchain

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/blocklog"
	"github.com/godcoin-go/godcoin/crypto"
	"github.com/godcoin-go/godcoin/index"
	"github.com/godcoin-go/godcoin/logs"
	"github.com/godcoin-go/godcoin/script"
	"github.com/godcoin-go/godcoin/tx"
)

var log = logs.Logger(logs.Chain)

// Properties is the small bundle of chain-wide state most callers want:
// the current height, network owner and total token supply.
type Properties struct {
	Height      uint64
	Owner       *tx.TxVariant
	TokenSupply asset.Asset
}

// Chain is GodCoin's blockchain state machine, combining the append-only
// block log with its leveldb index.
type Chain struct {
	lock sync.RWMutex

	bl  *blocklog.BlockLog
	idx *index.Index

	fees *feeWindow
}

// Open opens the block log at blocksPath and the index at indexPath.
func Open(blocksPath, indexPath string) (*Chain, error) {
	bl, err := blocklog.Open(blocksPath)
	if err != nil {
		return nil, errors.Wrap(err, "blockchain: open block log")
	}
	idx, err := index.Open(indexPath)
	if err != nil {
		bl.Close()
		return nil, errors.Wrap(err, "blockchain: open index")
	}
	log.Infof("opened chain: blocks=%s index=%s", blocksPath, indexPath)
	return &Chain{bl: bl, idx: idx, fees: newFeeWindow()}, nil
}

// Close releases the block log and index handles.
func (c *Chain) Close() error {
	if err := c.idx.Close(); err != nil {
		return err
	}
	return c.bl.Close()
}

// CreateGenesisBlock bootstraps a fresh chain: block 0 carries only the
// owner allocation (the initial OwnerTx, establishing minterKey as the sole
// signer), block 1 carries the initial MintTx crediting supply to the
// owner's wallet. Height ends at 1 and index_status becomes Complete.
func (c *Chain) CreateGenesisBlock(minter crypto.KeyPair, ownerWallet account.ID, initialSupply asset.Asset) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	ownerTx := &tx.TxVariant{
		Tag: tx.TagOwner,
		Header: tx.Header{
			TimestampMs: 0,
			Fee:         asset.New(0),
		},
		Owner: &tx.OwnerTx{
			MinterKey: minter.Public,
			Wallet:    ownerWallet,
		},
	}
	ownerTx.AppendSign(minter)

	block0 := tx.Block{
		Height:       0,
		PreviousHash: crypto.Digest{},
		TimestampMs:  0,
		Transactions: []*tx.TxVariant{ownerTx},
	}
	block0.TxMerkleRoot = tx.CalcTxMerkleRoot(block0.Transactions)
	sb0 := tx.SignWith(block0, minter)

	ownerAccount := &account.Account{
		ID:      ownerWallet,
		Balance: asset.New(0),
		Permissions: account.Permissions{
			Threshold: 1,
			Keys:      []crypto.PublicKey{minter.Public},
		},
		Script: script.PayToAccount(ownerWallet),
	}

	pos0, err := c.bl.Append(0, sb0)
	if err != nil {
		return errors.Wrap(err, "blockchain: append genesis block")
	}

	batch0 := index.NewBatch()
	batch0.PutBlockPos(0, uint64(pos0))
	batch0.PutAccount(ownerAccount)
	batch0.PutNetworkOwner(ownerTx)
	batch0.PutReceipts(0, []tx.Receipt{{TxId: ownerTx.Id()}})
	batch0.PutTokenSupply(asset.New(0))
	batch0.PutStatus(index.StatusPartial)
	batch0.PutChainHeight(0)
	if err := c.idx.Commit(batch0); err != nil {
		return errors.Wrap(err, "blockchain: commit genesis block")
	}

	mintTx := &tx.TxVariant{
		Tag: tx.TagMint,
		Header: tx.Header{
			TimestampMs: 0,
			Fee:         asset.New(0),
		},
		Mint: &tx.MintTx{
			To:     ownerWallet,
			Amount: initialSupply,
		},
	}
	mintTx.AppendSign(minter)

	block1 := tx.Block{
		Height:       1,
		PreviousHash: sb0.Block.Hash(),
		TimestampMs:  0,
		Transactions: []*tx.TxVariant{mintTx},
	}
	block1.TxMerkleRoot = tx.CalcTxMerkleRoot(block1.Transactions)
	sb1 := tx.SignWith(block1, minter)

	ownerAccount.Balance, _ = ownerAccount.Balance.Add(initialSupply)

	pos1, err := c.bl.Append(1, sb1)
	if err != nil {
		return errors.Wrap(err, "blockchain: append mint block")
	}

	batch1 := index.NewBatch()
	batch1.PutBlockPos(1, uint64(pos1))
	batch1.PutAccount(ownerAccount)
	batch1.PutReceipts(1, []tx.Receipt{{TxId: mintTx.Id()}})
	batch1.PutTokenSupply(initialSupply)
	batch1.PutStatus(index.StatusComplete)
	batch1.PutChainHeight(1)
	if err := c.idx.Commit(batch1); err != nil {
		return errors.Wrap(err, "blockchain: commit mint block")
	}

	c.fees.recordBlock(0, map[account.ID]int{ownerWallet: 1}, 1)
	c.fees.recordBlock(1, map[account.ID]int{ownerWallet: 1}, 1)

	log.Infof("created genesis chain: owner=%d supply=%s", ownerWallet, initialSupply)
	return nil
}

// GetProperties returns the chain's current height, owner and token supply.
func (c *Chain) GetProperties() (Properties, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	height, err := c.idx.GetChainHeight()
	if err != nil {
		return Properties{}, err
	}
	owner, err := c.idx.GetNetworkOwner()
	if err != nil {
		return Properties{}, err
	}
	supply, err := c.idx.GetTokenSupply()
	if err != nil {
		return Properties{}, err
	}
	return Properties{Height: height, Owner: owner, TokenSupply: supply}, nil
}

// GetAccount returns the account record for id.
func (c *Chain) GetAccount(id account.ID) (*account.Account, bool, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.idx.GetAccount(id)
}

// DryRun verifies v against the chain's current committed state layered
// under extra (a caller-maintained projection of not-yet-committed
// mutations, e.g. a mempool's pending ledger) without appending anything to
// the block log or index. It returns the Receipt v would produce plus the
// full set of accounts the verification touched, so the caller can fold
// those into its own projection for the next admission check. height is the
// height v would be verified at were it included in the next block.
func (c *Chain) DryRun(v *tx.TxVariant, height, nowMs uint64, extra map[account.ID]*account.Account) (tx.Receipt, map[account.ID]*account.Account, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	base := indexAccountSource(c.idx)
	ov := newOverlay(func(id account.ID) (*account.Account, bool, error) {
		if a, ok := extra[id]; ok {
			return a, true, nil
		}
		return base(id)
	})

	rc, _, err := c.verifyAndApplyTx(ov, v, height, nowMs)
	if err != nil {
		return tx.Receipt{}, nil, err
	}
	return rc, ov.pending, nil
}

// NextHeight returns the height a new block would be inserted at.
func (c *Chain) NextHeight() (uint64, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	h, err := c.idx.GetChainHeight()
	if err != nil {
		return 0, err
	}
	return h + 1, nil
}

// IsTxIdKnown reports whether id has already been recorded as applied.
func (c *Chain) IsTxIdKnown(id tx.Id) (bool, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.idx.IsTxIdKnown(id)
}

// GetBlock returns the SignedBlock and its receipts at height.
func (c *Chain) GetBlock(height uint64) (*tx.SignedBlock, []tx.Receipt, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	pos, err := c.idx.GetBlockPos(height)
	if err != nil {
		return nil, nil, err
	}
	sb, err := c.bl.ReadAt(int64(pos), height)
	if err != nil {
		return nil, nil, err
	}
	receipts, err := c.idx.GetReceipts(height)
	if err != nil {
		return nil, nil, err
	}
	return sb, receipts, nil
}

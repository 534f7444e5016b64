// Package mempool implements GodCoin's pending-transaction pool: a FIFO of
// accepted-but-unconfirmed transactions backed by a projected per-account
// balance ledger, so that submissions are validated against what the chain
// would look like if every already-pooled transaction landed, without
// touching the committed index. The pool's own duplicate/expiry bookkeeping
// mirrors the indexer's tx_expiry column (index/index.go) but lives
// entirely in memory: nothing here is replayed on restart, matching the
// teacher's TxPool being a pure in-memory cache of the authoritative chain.
package mempool

import (
	"container/list"
	"sync"

	"github.com/pkg/errors"

	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/blockchain"
	"github.com/godcoin-go/godcoin/logs"
	"github.com/godcoin-go/godcoin/tx"
)

var log = logs.Logger(logs.Mempool)

// DefaultMinRelayFee is the floor fee the pool will accept for any
// transaction regardless of what the chain's own fee schedule would permit,
// giving the pool a cheap first-pass rejection before running full
// verification.
var DefaultMinRelayFee = asset.New(1)

// entry is one pooled transaction together with the account balances it
// left behind in the projection.
type entry struct {
	v        *tx.TxVariant
	id       tx.Id
	receipt  tx.Receipt
	fee      asset.Asset
	touched  map[account.ID]*account.Account
}

// DropReason explains why a previously accepted transaction didn't survive
// re-verification at block production time.
type DropReason int

const (
	// DropInvalid covers any re-verification failure: expiry, a balance
	// that another pooled tx's cross-account effects invalidated, a
	// permission or script failure, or a stale fee requirement.
	DropInvalid DropReason = iota
)

// Dropped records one transaction removed from the pool during drain.
type Dropped struct {
	Id     tx.Id
	Reason DropReason
	Cause  error
}

// TxPool is GodCoin's mempool: a FIFO of accepted transactions plus the
// per-account balance projection their cumulative effects imply.
type TxPool struct {
	mu sync.Mutex

	chain *blockchain.Chain

	order   *list.List // of *entry, oldest first
	byId    map[tx.Id]*list.Element
	project map[account.ID]*account.Account
}

// New returns an empty pool bound to chain.
func New(chain *blockchain.Chain) *TxPool {
	return &TxPool{
		chain:   chain,
		order:   list.New(),
		byId:    make(map[tx.Id]*list.Element),
		project: make(map[account.ID]*account.Account),
	}
}

// Len returns the number of currently pooled transactions.
func (p *TxPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// Contains reports whether id is already pooled.
func (p *TxPool) Contains(id tx.Id) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byId[id]
	return ok
}

// ProcessTransaction validates v against the chain's committed state
// layered under the pool's current projection and, on success, admits it:
// the transaction joins the FIFO, its TxId is recorded so a duplicate
// resubmission is rejected immediately, and the projection absorbs the
// account mutations v produced so the next submission sees them.
func (p *TxPool) ProcessTransaction(v *tx.TxVariant, nowMs uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := v.Id()
	if _, ok := p.byId[id]; ok {
		return errors.New("mempool: duplicate transaction")
	}
	known, err := p.chain.IsTxIdKnown(id)
	if err != nil {
		return errors.Wrap(err, "mempool: check known txid")
	}
	if known {
		return errors.New("mempool: transaction already applied")
	}
	if v.Header.Fee.Amount < DefaultMinRelayFee.Amount {
		return errors.New("mempool: fee below relay minimum")
	}

	height, err := p.chain.NextHeight()
	if err != nil {
		return errors.Wrap(err, "mempool: next height")
	}
	rc, touched, err := p.chain.DryRun(v, height, nowMs, p.project)
	if err != nil {
		return errors.Wrap(err, "mempool: verify")
	}

	for id, acc := range touched {
		p.project[id] = acc
	}
	e := &entry{v: v, id: id, receipt: rc, fee: v.Header.Fee, touched: touched}
	el := p.order.PushBack(e)
	p.byId[id] = el

	log.Debugf("accepted tx %s into pool, %d pooled", id, p.order.Len())
	return nil
}

// Remove evicts id from the pool without touching the projection; used
// when an external caller (e.g. a direct chain insert bypassing the pool)
// has already consumed the transaction.
func (p *TxPool) Remove(id tx.Id) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.byId[id]; ok {
		p.order.Remove(el)
		delete(p.byId, id)
	}
}

// DrainResult is what block production needs from the pool: the
// transactions to include (in FIFO order), their total fees (for the
// synthesized RewardTx), and a log of anything dropped along the way.
type DrainResult struct {
	Transactions []*tx.TxVariant
	TotalFees    asset.Asset
	Dropped      []Dropped
}

// Drain empties the pool for block production. Every pooled transaction is
// re-verified against the chain's real committed state (not the pool's own
// projection, which may have missed cross-transaction interactions the
// FIFO order didn't anticipate) at the given height; anything that no
// longer verifies is dropped and logged rather than included. The pool is
// left empty regardless of outcome — transactions that survive belong to
// the block now being built, and ones that don't must be resubmitted by
// their originator if still desired.
func (p *TxPool) Drain(height, nowMs uint64) DrainResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := DrainResult{TotalFees: asset.New(0)}
	fresh := make(map[account.ID]*account.Account)

	for el := p.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		_, touched, err := p.chain.DryRun(e.v, height, nowMs, fresh)
		if err != nil {
			result.Dropped = append(result.Dropped, Dropped{Id: e.id, Reason: DropInvalid, Cause: err})
			continue
		}
		for id, acc := range touched {
			fresh[id] = acc
		}
		result.Transactions = append(result.Transactions, e.v)
		if total, ok := result.TotalFees.Add(e.fee); ok {
			result.TotalFees = total
		}
	}

	p.order.Init()
	p.byId = make(map[tx.Id]*list.Element)
	p.project = make(map[account.ID]*account.Account)

	log.Infof("drained pool for height %d: %d accepted, %d dropped", height, len(result.Transactions), len(result.Dropped))
	return result
}

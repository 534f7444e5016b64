package blockchain

import (
	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/crypto"
	"github.com/godcoin-go/godcoin/tx"
)

// command is one serialized mutation submitted to the actor's owning
// goroutine; result carries back whatever error the mutation produced.
type command struct {
	fn     func() error
	result chan error
}

// Actor is the single logical owner of a Chain's mutating operations,
// modeled as a message-driven actor with an inbound command queue: every
// write is a command pushed onto cmds and executed one at a time by run,
// so InsertBlock, Reindex and CreateGenesisBlock can never interleave with
// each other even when called from multiple goroutines. Reads bypass the
// queue entirely and go straight through Chain's own RWMutex, since they
// only need a consistent snapshot of the latest committed state, not
// serialization against each other.
type Actor struct {
	chain *Chain
	cmds  chan command
}

// NewActor wraps chain with a command queue and starts its owning
// goroutine. Close must be called to stop it.
func NewActor(chain *Chain) *Actor {
	a := &Actor{chain: chain, cmds: make(chan command, 64)}
	go a.run()
	return a
}

func (a *Actor) run() {
	for cmd := range a.cmds {
		cmd.result <- cmd.fn()
	}
}

func (a *Actor) submit(fn func() error) error {
	result := make(chan error, 1)
	a.cmds <- command{fn: fn, result: result}
	return <-result
}

// Chain returns the underlying Chain for read-only callers (the mempool's
// DryRun/NextHeight/IsTxIdKnown, the rpc handlers' GetProperties/GetBlock/
// GetAccount). None of these go through the command queue.
func (a *Actor) Chain() *Chain { return a.chain }

// InsertBlock submits sb to the actor's command queue and blocks until it
// has been applied or rejected.
func (a *Actor) InsertBlock(sb *tx.SignedBlock, nowMs uint64) error {
	return a.submit(func() error { return a.chain.InsertBlock(sb, nowMs) })
}

// Reindex submits a full reindex to the command queue.
func (a *Actor) Reindex() error {
	return a.submit(a.chain.Reindex)
}

// CreateGenesisBlock submits genesis creation to the command queue.
func (a *Actor) CreateGenesisBlock(minter crypto.KeyPair, ownerWallet account.ID, initialSupply asset.Asset) error {
	return a.submit(func() error { return a.chain.CreateGenesisBlock(minter, ownerWallet, initialSupply) })
}

// Close stops the owning goroutine and releases the underlying chain's
// file handles. Any command still in flight is allowed to finish first.
func (a *Actor) Close() error {
	// The queue is drained in order by one goroutine, so once this no-op
	// returns every command submitted before it has finished.
	a.submit(func() error { return nil })
	close(a.cmds)
	return a.chain.Close()
}

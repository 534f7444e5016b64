package tx

import (
	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/crypto"
)

// AccountLookup resolves an account.ID against whatever snapshot of state
// the caller is verifying against (a live index, or an in-progress batch of
// pending mempool updates).
type AccountLookup func(id account.ID) (*account.Account, bool)

// ScriptContext adapts a TxVariant plus an AccountLookup into the
// script.TxContext interface the evaluation engine requires. It lives here
// rather than in script itself so that script never needs to import tx.
type ScriptContext struct {
	Tx     *TxVariant
	Lookup AccountLookup
}

// NewScriptContext builds a ScriptContext for evaluating v's script-invoking
// variant against the given account lookup.
func NewScriptContext(v *TxVariant, lookup AccountLookup) *ScriptContext {
	return &ScriptContext{Tx: v, Lookup: lookup}
}

// SignaturePairs satisfies script.TxContext.
func (c *ScriptContext) SignaturePairs() []crypto.SigPair { return c.Tx.SignaturePairs() }

// SigningEncoding satisfies script.TxContext.
func (c *ScriptContext) SigningEncoding() []byte { return c.Tx.SigningEncoding() }

// DeclaredAmount satisfies script.TxContext.
func (c *ScriptContext) DeclaredAmount() asset.Asset { return c.Tx.DeclaredAmount() }

// SelfAccountID satisfies script.TxContext.
func (c *ScriptContext) SelfAccountID() account.ID { return c.Tx.SelfAccountID() }

// LookupAccount satisfies script.TxContext.
func (c *ScriptContext) LookupAccount(id account.ID) (*account.Account, bool) {
	return c.Lookup(id)
}

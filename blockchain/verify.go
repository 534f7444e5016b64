package blockchain

import (
	"github.com/pkg/errors"

	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/crypto"
	"github.com/godcoin-go/godcoin/index"
	"github.com/godcoin-go/godcoin/script"
	"github.com/godcoin-go/godcoin/tx"
)

// MaxTimeDriftForBlockMs bounds how far a block's own timestamp may lead
// the verifying node's clock.
const MaxTimeDriftForBlockMs = 3000

// accountSource resolves an account.ID against whatever base layer an
// overlay is built on — the committed index for real block processing, or
// a caller-supplied projection (the mempool's pending ledger) for dry runs.
type accountSource func(id account.ID) (*account.Account, bool, error)

// overlay is a read-through, write-behind view of the account table for one
// in-progress block: reads fall through to a base accountSource, writes are
// buffered so later transactions in the same block observe earlier ones'
// mutations without anything hitting disk until the whole block verifies.
type overlay struct {
	base    accountSource
	pending map[account.ID]*account.Account

	// newOwner is set when an OwnerTx in this block rotates the network
	// owner; the caller commits it to the index alongside the block.
	newOwner *tx.TxVariant
}

func newOverlay(base accountSource) *overlay {
	return &overlay{base: base, pending: make(map[account.ID]*account.Account)}
}

func indexAccountSource(idx *index.Index) accountSource {
	return func(id account.ID) (*account.Account, bool, error) { return idx.GetAccount(id) }
}

func (o *overlay) get(id account.ID) (*account.Account, bool, error) {
	if a, ok := o.pending[id]; ok {
		return a, true, nil
	}
	a, ok, err := o.base(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	o.pending[id] = a
	return a, true, nil
}

func (o *overlay) put(a *account.Account) { o.pending[a.ID] = a }

// verifyThresholdSigs applies the same hard-fail signature-matching
// semantics as the script engine's multisig check (script/engine.go,
// checkSigs): pairs are scanned once, in order, against the supplied key
// list; a pair whose key matches but whose signature doesn't verify is an
// immediate failure rather than a skip.
func verifyThresholdSigs(threshold int, keys []crypto.PublicKey, pairs []crypto.SigPair, msg []byte) bool {
	if threshold == 0 {
		return true
	}
	if threshold > len(keys) || len(pairs) == 0 {
		return false
	}

	validCount := 0
	keyIdx := 0
	for _, pair := range pairs {
		for keyIdx < len(keys) {
			key := keys[keyIdx]
			keyIdx++
			if key != pair.PubKey {
				continue
			}
			if key.Verify(msg, pair.Signature) {
				validCount++
				if validCount >= threshold {
					return true
				}
			} else {
				return false
			}
			break
		}
	}
	return false
}

// verifyAccountAuth checks v's signature pairs against acc's own
// permissions, the authorization path used by MintTx (owner multisig) and
// AccountTx (creator multisig).
func verifyAccountAuth(acc *account.Account, v *tx.TxVariant) bool {
	return verifyThresholdSigs(int(acc.Permissions.Threshold), acc.Permissions.Keys, v.SignaturePairs(), v.SigningEncoding())
}

// verifyAndApplyTx performs the full state-dependent verification pipeline
// for one transaction — structural checks, duplicate/expiry, fee schedule,
// authorization (script evaluation or direct permission check), and
// balance updates — mutating ov in place and returning the Receipt to
// persist alongside the block.
func (c *Chain) verifyAndApplyTx(ov *overlay, v *tx.TxVariant, height, nowMs uint64) (tx.Receipt, asset.Asset, error) {
	if err := v.CheckStructure(nowMs); err != nil {
		return tx.Receipt{}, asset.Asset{}, newTxErrCause(TxErrInvalidAmount, err)
	}

	id := v.Id()
	known, err := c.idx.IsTxIdKnown(id)
	if err != nil {
		return tx.Receipt{}, asset.Asset{}, err
	}
	if known {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrDupe)
	}

	switch v.Tag {
	case tx.TagMint:
		return c.applyMint(ov, v, id)
	case tx.TagOwner:
		return c.applyOwner(ov, v, id, height)
	case tx.TagAccount:
		return c.applyAccount(ov, v, id, height)
	case tx.TagTransfer:
		return c.applyTransfer(ov, v, id, height)
	default:
		return tx.Receipt{}, asset.Asset{}, errors.Errorf("blockchain: unsupported tx tag %d", v.Tag)
	}
}

func (c *Chain) applyMint(ov *overlay, v *tx.TxVariant, id tx.Id) (tx.Receipt, asset.Asset, error) {
	owner, err := c.idx.GetNetworkOwner()
	if err != nil {
		return tx.Receipt{}, asset.Asset{}, err
	}
	ownerAcc, ok, err := ov.get(owner.Owner.Wallet)
	if err != nil || !ok {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrAccountNotFound)
	}
	if !verifyAccountAuth(ownerAcc, v) {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrPermission)
	}

	to, ok, err := ov.get(v.Mint.To)
	if err != nil || !ok {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrAccountNotFound)
	}
	newBalance, ok := to.Balance.Add(v.Mint.Amount)
	if !ok {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrInvalidAmount)
	}
	to.Balance = newBalance
	ov.put(to)

	return tx.Receipt{TxId: id, Log: []tx.LogEntry{{Kind: tx.LogTransfer, To: v.Mint.To, Amount: v.Mint.Amount}}}, asset.New(0), nil
}

func (c *Chain) applyOwner(ov *overlay, v *tx.TxVariant, id tx.Id, height uint64) (tx.Receipt, asset.Asset, error) {
	owner, err := c.idx.GetNetworkOwner()
	if err != nil {
		return tx.Receipt{}, asset.Asset{}, err
	}
	ownerAcc, ok, err := ov.get(owner.Owner.Wallet)
	if err != nil || !ok {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrAccountNotFound)
	}
	if !verifyAccountAuth(ownerAcc, v) {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrPermission)
	}

	required := c.fees.accountFeeMultiplier(owner.Owner.Wallet, height)
	if v.Header.Fee.Amount <= 0 || v.Header.Fee.Amount < required.Amount {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrInvalidFeeAmount)
	}
	newBalance, ok := ownerAcc.Balance.Sub(v.Header.Fee)
	if !ok || newBalance.Amount < 0 {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrInvalidAmount)
	}
	ownerAcc.Balance = newBalance
	ov.put(ownerAcc)

	newWallet, exists, err := ov.get(v.Owner.Wallet)
	if err != nil {
		return tx.Receipt{}, asset.Asset{}, err
	}
	if !exists {
		newWallet = &account.Account{ID: v.Owner.Wallet, Balance: asset.New(0)}
	}
	newWallet.Permissions = account.Permissions{
		Threshold: 1,
		Keys:      []crypto.PublicKey{v.Owner.MinterKey},
	}
	if len(v.Owner.Script) > 0 {
		newWallet.Script = v.Owner.Script
	} else {
		newWallet.Script = script.PayToAccount(v.Owner.Wallet)
	}
	ov.put(newWallet)
	ov.newOwner = v

	return tx.Receipt{TxId: id}, v.Header.Fee, nil
}

func (c *Chain) applyAccount(ov *overlay, v *tx.TxVariant, id tx.Id, height uint64) (tx.Receipt, asset.Asset, error) {
	creator, ok, err := ov.get(v.Account.Creator)
	if err != nil || !ok {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrAccountNotFound)
	}
	if !verifyAccountAuth(creator, v) {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrPermission)
	}
	if _, exists, _ := ov.get(v.Account.NewAccount); exists {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrAccountExists)
	}

	required := accountCreateFee(c.fees.netFee())
	if v.Header.Fee.Amount <= 0 || v.Header.Fee.Amount < required.Amount {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrInvalidFeeAmount)
	}
	newBalance, ok := creator.Balance.Sub(v.Header.Fee)
	if !ok || newBalance.Amount < 0 {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrInvalidAmount)
	}
	creator.Balance = newBalance
	ov.put(creator)

	acctScript := v.Account.Script
	if len(acctScript) == 0 {
		acctScript = script.PayToAccount(v.Account.NewAccount)
	}
	newAcc := &account.Account{
		ID:          v.Account.NewAccount,
		Balance:     asset.New(0),
		Permissions: v.Account.Permissions,
		Script:      acctScript,
	}
	if err := newAcc.Validate(); err != nil {
		return tx.Receipt{}, asset.Asset{}, newTxErrCause(TxErrInvalidAmount, err)
	}
	ov.put(newAcc)

	return tx.Receipt{TxId: id}, v.Header.Fee, nil
}

func (c *Chain) applyTransfer(ov *overlay, v *tx.TxVariant, id tx.Id, height uint64) (tx.Receipt, asset.Asset, error) {
	from, ok, err := ov.get(v.Transfer.From)
	if err != nil || !ok {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrAccountNotFound)
	}
	if from.Destroyed {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrAccountNotFound)
	}

	required := c.fees.accountFeeMultiplier(v.Transfer.From, height)
	if v.Header.Fee.Amount <= 0 || v.Header.Fee.Amount < required.Amount {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrInvalidFeeAmount)
	}

	lookup := func(aid account.ID) (*account.Account, bool) {
		a, ok, err := ov.get(aid)
		if err != nil || !ok {
			return nil, false
		}
		return a, true
	}

	eng, err := script.CheckedNew(tx.NewScriptContext(v, lookup), from.Script, v.Transfer.CallFn, v.Transfer.Args)
	if err != nil {
		return tx.Receipt{}, asset.Asset{}, newTxErrCause(TxErrScriptEval, err)
	}
	pendingLog, evalErr := eng.Eval()
	if evalErr != nil {
		return tx.Receipt{}, asset.Asset{}, newTxErrCause(TxErrScriptEval, evalErr)
	}

	balance := from.Balance
	receiptLog := make([]tx.LogEntry, 0, len(pendingLog)+1)
	var destroySink account.ID
	var destroyed bool

	for _, e := range pendingLog {
		switch e.Kind {
		case script.LogTransfer:
			if e.Amount.Amount < 0 {
				return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrInvalidAmount)
			}
			to, ok, err := ov.get(e.To)
			if err != nil || !ok {
				return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrAccountNotFound)
			}
			newBal, ok := balance.Sub(e.Amount)
			if !ok || newBal.Amount < 0 {
				return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrInvalidAmount)
			}
			balance = newBal
			toBal, ok := to.Balance.Add(e.Amount)
			if !ok {
				return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrInvalidAmount)
			}
			to.Balance = toBal
			ov.put(to)
			receiptLog = append(receiptLog, tx.LogEntry{Kind: tx.LogTransfer, To: e.To, Amount: e.Amount})
		case script.LogDestroy:
			destroyed = true
			destroySink = e.Sink
			receiptLog = append(receiptLog, tx.LogEntry{Kind: tx.LogDestroy, To: v.Transfer.From, Sink: e.Sink})
		}
	}

	newBal, ok := balance.Sub(v.Header.Fee)
	if !ok || newBal.Amount < 0 {
		return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrInvalidAmount)
	}
	balance = newBal

	if destroyed {
		residue := balance
		sink, ok, err := ov.get(destroySink)
		if err != nil || !ok {
			return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrAccountNotFound)
		}
		sinkBal, ok := sink.Balance.Add(residue)
		if !ok {
			return tx.Receipt{}, asset.Asset{}, newTxErr(TxErrInvalidAmount)
		}
		sink.Balance = sinkBal
		ov.put(sink)

		from.Balance = asset.New(0)
		from.Destroyed = true
		if residue.Amount != 0 {
			receiptLog = append(receiptLog, tx.LogEntry{Kind: tx.LogTransfer, To: destroySink, Amount: residue})
		}
	} else {
		from.Balance = balance
	}
	ov.put(from)

	return tx.Receipt{TxId: id, Log: receiptLog}, v.Header.Fee, nil
}

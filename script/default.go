package script

import (
	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/serializer"
)

// PayToAccount returns the canonical single-function script assigned to
// plain wallet accounts (the genesis owner wallet, and any AccountTx that
// doesn't supply its own program): call_fn 0 takes one AccountID argument,
// checks the calling account's own permissions in full, and transfers the
// transaction's declared amount to that argument. It is the minimal script
// that makes OpCheckPermsFastFail/OpTransfer actually reachable without a
// bespoke program, the same role a P2PKH template plays for a teacher
// wallet that never writes custom scripts.
func PayToAccount(self account.ID) account.Script {
	body := NewBuilder().
		Push(OpFrame{Op: OpPushAccountID, AccountID: self}).
		Push(OpFrame{Op: OpCheckPermsFastFail}).
		Push(OpFrame{Op: OpLoadAmt}).
		Push(OpFrame{Op: OpTransfer}).
		Push(OpFrame{Op: OpTrue}).
		Build()

	w := serializer.NewWriter(len(body) + 8)
	p := &Program{
		Funcs: []FuncDef{{Args: []Arg{ArgAccountID}, Pos: 0}},
		Body:  body,
	}
	p.Encode(w)
	return account.Script(w.Bytes())
}

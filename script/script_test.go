package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/crypto"
	"github.com/godcoin-go/godcoin/serializer"
)

type fakeTx struct {
	sigs     []crypto.SigPair
	buf      []byte
	amount   asset.Asset
	accounts map[account.ID]*account.Account
	self     account.ID
}

func (f *fakeTx) SignaturePairs() []crypto.SigPair { return f.sigs }
func (f *fakeTx) SigningEncoding() []byte          { return f.buf }
func (f *fakeTx) DeclaredAmount() asset.Asset       { return f.amount }
func (f *fakeTx) LookupAccount(id account.ID) (*account.Account, bool) {
	a, ok := f.accounts[id]
	return a, ok
}
func (f *fakeTx) SelfAccountID() account.ID { return f.self }

func mustKP(t *testing.T) crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenKeyPair()
	require.NoError(t, err)
	return kp
}

func encodeAccountIDArg(id account.ID) []byte {
	w := serializer.NewWriter(8)
	w.PushU64(uint64(id))
	return w.Bytes()
}

func TestPayToAccountTransfersOnValidSignature(t *testing.T) {
	kp := mustKP(t)
	buf := []byte("sign this")
	sig := kp.Sign(buf)

	self := account.ID(1)
	to := account.ID(2)

	tx := &fakeTx{
		sigs:   []crypto.SigPair{{PubKey: kp.Public, Signature: sig}},
		buf:    buf,
		amount: asset.MustParse("1.0000 GRAEL"),
		accounts: map[account.ID]*account.Account{
			self: {ID: self, Permissions: account.Permissions{Threshold: 1, Keys: []crypto.PublicKey{kp.Public}}},
			to:   {ID: to},
		},
		self: self,
	}

	prog := PayToAccount(self)
	eng, err := CheckedNew(tx, prog, 0, encodeAccountIDArg(to))
	require.NoError(t, err)

	log, evalErr := eng.Eval()
	require.Nil(t, evalErr)
	require.Len(t, log, 1)
	assert.Equal(t, LogTransfer, log[0].Kind)
	assert.Equal(t, to, log[0].To)
	assert.Equal(t, tx.amount, log[0].Amount)
}

func TestPayToAccountFailsOnBadSignature(t *testing.T) {
	kp := mustKP(t)
	other := mustKP(t)
	buf := []byte("sign this")
	// signed with a key that doesn't match the account's permissions
	sig := other.Sign(buf)

	self := account.ID(1)
	to := account.ID(2)

	tx := &fakeTx{
		sigs:   []crypto.SigPair{{PubKey: kp.Public, Signature: sig}},
		buf:    buf,
		amount: asset.MustParse("1.0000 GRAEL"),
		accounts: map[account.ID]*account.Account{
			self: {ID: self, Permissions: account.Permissions{Threshold: 1, Keys: []crypto.PublicKey{kp.Public}}},
			to:   {ID: to},
		},
		self: self,
	}

	prog := PayToAccount(self)
	eng, err := CheckedNew(tx, prog, 0, encodeAccountIDArg(to))
	require.NoError(t, err)

	_, evalErr := eng.Eval()
	require.NotNil(t, evalErr)
	assert.Equal(t, KindErrScriptRetFalse, evalErr.Kind)
}

func TestCheckSigHardFailsOnSignatureMismatch(t *testing.T) {
	kp := mustKP(t)
	buf := []byte("payload")
	badSig := kp.Sign([]byte("different payload"))

	tx := &fakeTx{
		sigs: []crypto.SigPair{{PubKey: kp.Public, Signature: badSig}},
		buf:  buf,
		self: 1,
	}

	body := NewBuilder().
		Push(OpFrame{Op: OpPushPubKey, PubKey: kp.Public}).
		Push(OpFrame{Op: OpCheckSig}).
		Build()
	prog := &Program{Funcs: []FuncDef{{Pos: 0}}, Body: body}
	w := serializer.NewWriter(64)
	prog.Encode(w)

	eng, err := CheckedNew(tx, account.Script(w.Bytes()), 0, nil)
	require.NoError(t, err)

	_, evalErr := eng.Eval()
	require.NotNil(t, evalErr)
	assert.Equal(t, KindErrScriptRetFalse, evalErr.Kind)
}

func TestIfElseControlFlow(t *testing.T) {
	tx := &fakeTx{self: 1}

	build := func(cond bool) account.Script {
		b := NewBuilder()
		if cond {
			b.Push(OpFrame{Op: OpTrue})
		} else {
			b.Push(OpFrame{Op: OpFalse})
		}
		body := b.Push(OpFrame{Op: OpIf}).
			Push(OpFrame{Op: OpTrue}).
			Push(OpFrame{Op: OpElse}).
			Push(OpFrame{Op: OpFalse}).
			Push(OpFrame{Op: OpEndIf}).
			Build()
		prog := &Program{Funcs: []FuncDef{{Pos: 0}}, Body: body}
		w := serializer.NewWriter(64)
		prog.Encode(w)
		return account.Script(w.Bytes())
	}

	eng, err := CheckedNew(tx, build(true), 0, nil)
	require.NoError(t, err)
	_, evalErr := eng.Eval()
	assert.Nil(t, evalErr)

	eng2, err := CheckedNew(tx, build(false), 0, nil)
	require.NoError(t, err)
	_, evalErr2 := eng2.Eval()
	require.NotNil(t, evalErr2)
	assert.Equal(t, KindErrScriptRetFalse, evalErr2.Kind)
}

func TestArithmeticOpcodes(t *testing.T) {
	tx := &fakeTx{self: 1}

	// (2 + 3) - 1 leaves an Asset on top of the stack rather than a Bool,
	// so the implicit final-result check fails with InvalidItemOnStack
	// instead of ScriptRetFalse: proof Add/Sub both ran correctly.
	prog := &Program{Funcs: []FuncDef{{Pos: 0}}, Body: NewBuilder().
		Push(OpFrame{Op: OpPushAsset, Asset: asset.MustParse("2.0000 GRAEL")}).
		Push(OpFrame{Op: OpPushAsset, Asset: asset.MustParse("3.0000 GRAEL")}).
		Push(OpFrame{Op: OpAdd}).
		Push(OpFrame{Op: OpPushAsset, Asset: asset.MustParse("1.0000 GRAEL")}).
		Push(OpFrame{Op: OpSub}).
		Build(),
	}
	w := serializer.NewWriter(64)
	prog.Encode(w)

	eng, err := CheckedNew(tx, account.Script(w.Bytes()), 0, nil)
	require.NoError(t, err)
	_, evalErr := eng.Eval()
	require.NotNil(t, evalErr)
	assert.Equal(t, KindErrInvalidItemOnStack, evalErr.Kind)
}

func TestStackOverflowDetected(t *testing.T) {
	b := NewBuilder()
	for i := 0; i < MaxStackDepth+1; i++ {
		b.Push(OpFrame{Op: OpTrue})
	}
	prog := &Program{Funcs: []FuncDef{{Pos: 0}}, Body: b.Build()}
	w := serializer.NewWriter(256)
	prog.Encode(w)

	tx := &fakeTx{self: 1}
	eng, err := CheckedNew(tx, account.Script(w.Bytes()), 0, nil)
	require.NoError(t, err)
	_, evalErr := eng.Eval()
	require.NotNil(t, evalErr)
	assert.Equal(t, KindErrStackOverflow, evalErr.Kind)
}

func TestScriptTooLargeRejected(t *testing.T) {
	tx := &fakeTx{self: 1}
	_, err := CheckedNew(tx, make(account.Script, MaxByteSize+1), 0, nil)
	require.Error(t, err)
	evalErr, ok := err.(*EvalErr)
	require.True(t, ok)
	assert.Equal(t, KindErrScriptTooLarge, evalErr.Kind)
}

func TestUnknownCallFnRejected(t *testing.T) {
	tx := &fakeTx{self: 1}
	prog := &Program{Funcs: nil, Body: nil}
	w := serializer.NewWriter(8)
	prog.Encode(w)

	_, err := CheckedNew(tx, account.Script(w.Bytes()), 0, nil)
	require.Error(t, err)
}

func TestDestroyAbortsOnSelfSink(t *testing.T) {
	self := account.ID(1)
	tx := &fakeTx{self: self, accounts: map[account.ID]*account.Account{}}

	body := NewBuilder().
		Push(OpFrame{Op: OpPushAccountID, AccountID: self}).
		Push(OpFrame{Op: OpDestroy}).
		Build()
	prog := &Program{Funcs: []FuncDef{{Pos: 0}}, Body: body}
	w := serializer.NewWriter(64)
	prog.Encode(w)

	eng, err := CheckedNew(tx, account.Script(w.Bytes()), 0, nil)
	require.NoError(t, err)
	_, evalErr := eng.Eval()
	require.NotNil(t, evalErr)
	assert.Equal(t, KindErrAborted, evalErr.Kind)
}

func TestProgramEncodeDecodeRoundTrip(t *testing.T) {
	prog := &Program{
		Funcs: []FuncDef{{Args: []Arg{ArgAccountID, ArgAsset}, Pos: 3}},
		Body:  []byte{1, 2, 3, 4},
	}
	w := serializer.NewWriter(32)
	prog.Encode(w)

	got, err := DecodeProgram(w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, prog.Funcs, got.Funcs)
	assert.Equal(t, prog.Body, got.Body)
}

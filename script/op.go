// Package script implements GodCoin's stack-based authorization VM: a
// program of typed function signatures plus opcode body, executed against
// a transaction to produce a pending log of Transfer/Destroy side effects.
package script

import (
	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/crypto"
	"github.com/godcoin-go/godcoin/serializer"
)

// Operand is the wire byte identifying a pushed literal or opcode.
type Operand uint8

const (
	OperandPushFalse Operand = iota
	OperandPushTrue
	OperandPushAccountID
	OperandPushAsset
	OperandPushPubKey
	OperandPushScriptHash

	OperandOpLoadAmt
	OperandOpLoadRemAmt
	OperandOpAdd
	OperandOpSub
	OperandOpMul
	OperandOpDiv

	OperandOpNot
	OperandOpIf
	OperandOpElse
	OperandOpEndIf
	OperandOpReturn

	OperandOpCheckSig
	OperandOpCheckSigFastFail
	OperandOpCheckMultiSig
	OperandOpCheckMultiSigFastFail
	OperandOpCheckPerms
	OperandOpCheckPermsFastFail
	OperandOpCheckMultiPerms
	OperandOpCheckMultiPermsFastFail

	OperandOpTransfer
	OperandOpDestroy
)

// OpCode names the decoded operation independent of its payload.
type OpCode int

const (
	OpFalse OpCode = iota
	OpTrue
	OpPushAccountID
	OpPushAsset
	OpPushPubKey
	OpPushScriptHash
	OpLoadAmt
	OpLoadRemAmt
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNot
	OpIf
	OpElse
	OpEndIf
	OpReturn
	OpCheckSig
	OpCheckSigFastFail
	OpCheckMultiSig
	OpCheckMultiSigFastFail
	OpCheckPerms
	OpCheckPermsFastFail
	OpCheckMultiPerms
	OpCheckMultiPermsFastFail
	OpTransfer
	OpDestroy
)

// OpFrame is a fully decoded opcode together with any inline operands
// (pushed literals, or the threshold/key-count pair for multisig checks).
type OpFrame struct {
	Op         OpCode
	Bool       bool
	AccountID  account.ID
	Asset      asset.Asset
	PubKey     crypto.PublicKey
	ScriptHash crypto.Digest
	Threshold  uint8
	KeyCount   uint8
}

// Encode appends the wire form of the frame to w.
func (f OpFrame) Encode(w *serializer.Writer) {
	switch f.Op {
	case OpFalse:
		w.PushU8(uint8(OperandPushFalse))
	case OpTrue:
		w.PushU8(uint8(OperandPushTrue))
	case OpPushAccountID:
		w.PushU8(uint8(OperandPushAccountID))
		w.PushU64(uint64(f.AccountID))
	case OpPushAsset:
		w.PushU8(uint8(OperandPushAsset))
		f.Asset.Encode(w)
	case OpPushPubKey:
		w.PushU8(uint8(OperandPushPubKey))
		f.PubKey.Encode(w)
	case OpPushScriptHash:
		w.PushU8(uint8(OperandPushScriptHash))
		w.PushRaw(f.ScriptHash[:])
	case OpLoadAmt:
		w.PushU8(uint8(OperandOpLoadAmt))
	case OpLoadRemAmt:
		w.PushU8(uint8(OperandOpLoadRemAmt))
	case OpAdd:
		w.PushU8(uint8(OperandOpAdd))
	case OpSub:
		w.PushU8(uint8(OperandOpSub))
	case OpMul:
		w.PushU8(uint8(OperandOpMul))
	case OpDiv:
		w.PushU8(uint8(OperandOpDiv))
	case OpNot:
		w.PushU8(uint8(OperandOpNot))
	case OpIf:
		w.PushU8(uint8(OperandOpIf))
	case OpElse:
		w.PushU8(uint8(OperandOpElse))
	case OpEndIf:
		w.PushU8(uint8(OperandOpEndIf))
	case OpReturn:
		w.PushU8(uint8(OperandOpReturn))
	case OpCheckSig:
		w.PushU8(uint8(OperandOpCheckSig))
	case OpCheckSigFastFail:
		w.PushU8(uint8(OperandOpCheckSigFastFail))
	case OpCheckMultiSig:
		w.PushU8(uint8(OperandOpCheckMultiSig))
		w.PushU8(f.Threshold)
		w.PushU8(f.KeyCount)
	case OpCheckMultiSigFastFail:
		w.PushU8(uint8(OperandOpCheckMultiSigFastFail))
		w.PushU8(f.Threshold)
		w.PushU8(f.KeyCount)
	case OpCheckPerms:
		w.PushU8(uint8(OperandOpCheckPerms))
	case OpCheckPermsFastFail:
		w.PushU8(uint8(OperandOpCheckPermsFastFail))
	case OpCheckMultiPerms:
		w.PushU8(uint8(OperandOpCheckMultiPerms))
		w.PushU8(f.Threshold)
	case OpCheckMultiPermsFastFail:
		w.PushU8(uint8(OperandOpCheckMultiPermsFastFail))
		w.PushU8(f.Threshold)
	case OpTransfer:
		w.PushU8(uint8(OperandOpTransfer))
	case OpDestroy:
		w.PushU8(uint8(OperandOpDestroy))
	}
}

// Arg names a declared function parameter type, used to decode a
// TransferTx's raw args blob into typed stack pushes at call time.
type Arg int

const (
	ArgAccountID Arg = iota
	ArgAsset
	ArgBool
	ArgPubKey
	ArgScriptHash
)

// FuncDef is one entry in a Program's function table: its declared
// parameter list and the byte offset in Body where it begins executing.
type FuncDef struct {
	Args []Arg
	Pos  uint32
}

// Program is a decoded script: a function table plus shared opcode body.
// Functions don't have disjoint bodies — Pos marks where execution for a
// given call_fn enters the shared Body, mirroring a jump table.
type Program struct {
	Funcs []FuncDef
	Body  []byte
}

// MaxFuncCount bounds the number of functions a script may declare.
const MaxFuncCount = 255

// Encode appends the canonical function table and body to w.
func (p *Program) Encode(w *serializer.Writer) {
	w.PushU8(uint8(len(p.Funcs)))
	for _, f := range p.Funcs {
		w.PushU8(uint8(len(f.Args)))
		for _, a := range f.Args {
			w.PushU8(uint8(a))
		}
		w.PushU32(f.Pos)
	}
	w.PushBytes(p.Body)
}

// DecodeProgram parses a function table and body from raw script bytes.
func DecodeProgram(raw []byte) (*Program, error) {
	r := serializer.NewReader(raw)
	funcCount, err := r.TakeU8()
	if err != nil {
		return nil, err
	}
	funcs := make([]FuncDef, 0, funcCount)
	for i := uint8(0); i < funcCount; i++ {
		argCount, err := r.TakeU8()
		if err != nil {
			return nil, err
		}
		args := make([]Arg, 0, argCount)
		for j := uint8(0); j < argCount; j++ {
			a, err := r.TakeU8()
			if err != nil {
				return nil, err
			}
			args = append(args, Arg(a))
		}
		pos, err := r.TakeU32()
		if err != nil {
			return nil, err
		}
		funcs = append(funcs, FuncDef{Args: args, Pos: pos})
	}
	body, err := r.TakeBytes()
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return &Program{Funcs: funcs, Body: body}, nil
}

// Builder fluently assembles raw opcode bytes for a function body, used
// heavily by tests the way the original's Builder type was.
type Builder struct {
	w *serializer.Writer
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{w: serializer.NewWriter(64)} }

// Push appends one opcode frame and returns the Builder for chaining.
func (b *Builder) Push(f OpFrame) *Builder {
	f.Encode(b.w)
	return b
}

// Build returns the accumulated body bytes.
func (b *Builder) Build() []byte { return b.w.Bytes() }

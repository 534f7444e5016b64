package script

import (
	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/crypto"
	"github.com/godcoin-go/godcoin/serializer"
)

// MaxByteSize bounds the combined size of a script's function table and
// body, matching account.MaxScriptByteSize.
const MaxByteSize = account.MaxScriptByteSize

// MaxOpCount bounds the total number of opcodes a single evaluation may
// execute, guarding against unbounded-looking (but loop-free) programs
// that are merely very long.
const MaxOpCount = 4096

// TxContext is the slice of a transaction the engine needs: its signature
// pairs for OpCheckSig/OpCheckMultiSig, its canonical signing encoding, its
// declared transfer amount (for OpLoadAmt) and an account lookup for
// OpCheckPerms/OpTransfer/OpDestroy target validation.
type TxContext interface {
	SignaturePairs() []crypto.SigPair
	SigningEncoding() []byte
	DeclaredAmount() asset.Asset
	LookupAccount(id account.ID) (*account.Account, bool)
	SelfAccountID() account.ID
}

// LogEntryKind tags a pending side effect produced during evaluation.
type LogEntryKind int

const (
	LogTransfer LogEntryKind = iota
	LogDestroy
)

// OpLogEntry is one pending side effect emitted by OpTransfer/OpDestroy.
// Sink is only meaningful for LogDestroy entries; it carries the
// destination of the destroyed account's residual balance for component G
// to materialize after explicit transfers settle.
type OpLogEntry struct {
	Kind   LogEntryKind
	To     account.ID
	Amount asset.Asset
	Sink   account.ID
}

// Engine executes one function of a decoded Program against a transaction.
type Engine struct {
	program     *Program
	pos         int
	stack       *Stack
	sigPairPos  int
	tx          TxContext
	pendingLog  []OpLogEntry
	transferred asset.Asset
	opCount     int
}

// CheckedNew decodes script and prepares an Engine positioned to run the
// function identified by callFn, pushing args (the transaction's raw
// argument bytes) onto the stack per the function's declared signature.
// Returns ScriptTooLarge if script exceeds MaxByteSize.
func CheckedNew(tx TxContext, scriptBytes account.Script, callFn uint8, args []byte) (*Engine, error) {
	if len(scriptBytes) > MaxByteSize {
		return nil, &EvalErr{Pos: 0, Kind: KindErrScriptTooLarge}
	}
	program, err := DecodeProgram(scriptBytes)
	if err != nil {
		return nil, &EvalErr{Pos: 0, Kind: KindErrUnexpectedEOF}
	}
	if int(callFn) >= len(program.Funcs) {
		return nil, &EvalErr{Pos: 0, Kind: KindErrUnknownOp}
	}
	fn := program.Funcs[callFn]

	e := &Engine{
		program: program,
		pos:     int(fn.Pos),
		stack:   NewStack(),
		tx:      tx,
	}

	r := serializer.NewReader(args)
	for _, argType := range fn.Args {
		v, err := decodeArg(r, argType)
		if err != nil {
			return nil, e.newErr(KindErrUnexpectedEOF)
		}
		if err := e.stack.Push(v); err != nil {
			return nil, e.newErr(kindOf(err))
		}
	}
	if err := r.Finish(); err != nil {
		return nil, e.newErr(KindErrUnexpectedEOF)
	}

	return e, nil
}

func decodeArg(r *serializer.Reader, a Arg) (Value, error) {
	switch a {
	case ArgAccountID:
		id, err := r.TakeU64()
		if err != nil {
			return Value{}, err
		}
		return AccountIDValue(account.ID(id)), nil
	case ArgAsset:
		am, err := asset.Decode(r)
		if err != nil {
			return Value{}, err
		}
		return AssetValue(am), nil
	case ArgBool:
		b, err := r.TakeBool()
		if err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case ArgPubKey:
		k, err := crypto.DecodePublicKey(r)
		if err != nil {
			return Value{}, err
		}
		return PubKeyValue(k), nil
	case ArgScriptHash:
		b, err := r.TakeRaw(crypto.DigestSize)
		if err != nil {
			return Value{}, err
		}
		var h crypto.Digest
		copy(h[:], b)
		return ScriptHashValue(h), nil
	default:
		return Value{}, errKind(KindErrUnknownOp)
	}
}

// Eval runs opcodes from the current position until OpReturn or end of
// body. On success (final stack value is exactly true) it returns the
// pending log of Transfer/Destroy side effects; any other outcome is an
// *EvalErr, including a false result (KindErrScriptRetFalse).
func (e *Engine) Eval() ([]OpLogEntry, *EvalErr) {
	ifMarker := 0
	ignoreElse := false

evalLoop:
	for {
		op, ok, err := e.consumeOp()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		switch op.Op {
		case OpFalse:
			if pushErr := e.stack.Push(BoolValue(false)); pushErr != nil {
				return nil, e.newErr(kindOf(pushErr))
			}
		case OpTrue:
			if pushErr := e.stack.Push(BoolValue(true)); pushErr != nil {
				return nil, e.newErr(kindOf(pushErr))
			}
		case OpPushAccountID:
			if pushErr := e.stack.Push(AccountIDValue(op.AccountID)); pushErr != nil {
				return nil, e.newErr(kindOf(pushErr))
			}
		case OpPushAsset:
			if pushErr := e.stack.Push(AssetValue(op.Asset)); pushErr != nil {
				return nil, e.newErr(kindOf(pushErr))
			}
		case OpPushPubKey:
			if pushErr := e.stack.Push(PubKeyValue(op.PubKey)); pushErr != nil {
				return nil, e.newErr(kindOf(pushErr))
			}
		case OpPushScriptHash:
			if pushErr := e.stack.Push(ScriptHashValue(op.ScriptHash)); pushErr != nil {
				return nil, e.newErr(kindOf(pushErr))
			}

		case OpLoadAmt:
			if pushErr := e.stack.Push(AssetValue(e.tx.DeclaredAmount())); pushErr != nil {
				return nil, e.newErr(kindOf(pushErr))
			}
		case OpLoadRemAmt:
			rem, ok := e.tx.DeclaredAmount().Sub(e.transferred)
			if !ok {
				return nil, e.newErr(KindErrArithmeticErr)
			}
			if pushErr := e.stack.Push(AssetValue(rem)); pushErr != nil {
				return nil, e.newErr(kindOf(pushErr))
			}

		case OpAdd, OpSub, OpMul, OpDiv:
			if err := e.doArith(op.Op); err != nil {
				return nil, err
			}

		case OpNot:
			b, perr := e.stack.PopBool()
			if perr != nil {
				return nil, e.newErr(kindOf(perr))
			}
			if pushErr := e.stack.Push(BoolValue(!b)); pushErr != nil {
				return nil, e.newErr(kindOf(pushErr))
			}

		case OpIf:
			ifMarker++
			b, perr := e.stack.PopBool()
			if perr != nil {
				return nil, e.newErr(kindOf(perr))
			}
			ignoreElse = b
			if ignoreElse {
				continue
			}
			reqMarker := ifMarker
			if err := e.skipUntilBranch(&ifMarker, reqMarker); err != nil {
				return nil, err
			}

		case OpElse:
			if !ignoreElse {
				continue
			}
			reqMarker := ifMarker
			if err := e.skipUntilBranch(&ifMarker, reqMarker); err != nil {
				return nil, err
			}

		case OpEndIf:
			ifMarker--

		case OpReturn:
			ifMarker = 0
			break evalLoop

		case OpCheckSig:
			key, perr := e.stack.PopPubKey()
			if perr != nil {
				return nil, e.newErr(kindOf(perr))
			}
			ok := e.checkSigs(1, []crypto.PublicKey{key})
			if pushErr := e.stack.Push(BoolValue(ok)); pushErr != nil {
				return nil, e.newErr(kindOf(pushErr))
			}
		case OpCheckSigFastFail:
			key, perr := e.stack.PopPubKey()
			if perr != nil {
				return nil, e.newErr(kindOf(perr))
			}
			if !e.checkSigs(1, []crypto.PublicKey{key}) {
				return nil, e.newErr(KindErrScriptRetFalse)
			}

		case OpCheckMultiSig:
			keys, perr := e.popKeys(op.KeyCount)
			if perr != nil {
				return nil, perr
			}
			ok := e.checkSigs(int(op.Threshold), keys)
			if pushErr := e.stack.Push(BoolValue(ok)); pushErr != nil {
				return nil, e.newErr(kindOf(pushErr))
			}
		case OpCheckMultiSigFastFail:
			keys, perr := e.popKeys(op.KeyCount)
			if perr != nil {
				return nil, perr
			}
			if !e.checkSigs(int(op.Threshold), keys) {
				return nil, e.newErr(KindErrScriptRetFalse)
			}

		case OpCheckPerms:
			ok, err := e.checkPerms(0)
			if err != nil {
				return nil, err
			}
			if pushErr := e.stack.Push(BoolValue(ok)); pushErr != nil {
				return nil, e.newErr(kindOf(pushErr))
			}
		case OpCheckPermsFastFail:
			ok, err := e.checkPerms(0)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, e.newErr(KindErrScriptRetFalse)
			}
		case OpCheckMultiPerms:
			ok, err := e.checkPerms(int(op.Threshold))
			if err != nil {
				return nil, err
			}
			if pushErr := e.stack.Push(BoolValue(ok)); pushErr != nil {
				return nil, e.newErr(kindOf(pushErr))
			}
		case OpCheckMultiPermsFastFail:
			ok, err := e.checkPerms(int(op.Threshold))
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, e.newErr(KindErrScriptRetFalse)
			}

		case OpTransfer:
			if err := e.doTransfer(); err != nil {
				return nil, err
			}

		case OpDestroy:
			if err := e.doDestroy(); err != nil {
				return nil, err
			}
		}
	}

	if ifMarker > 0 {
		return nil, e.newErr(KindErrUnexpectedEOF)
	}

	result, perr := e.stack.PopBool()
	if perr != nil {
		return nil, e.newErr(kindOf(perr))
	}
	if !result {
		return nil, e.newErr(KindErrScriptRetFalse)
	}
	return e.pendingLog, nil
}

func (e *Engine) doArith(op OpCode) *EvalErr {
	b, err := e.stack.PopAsset()
	if err != nil {
		return e.newErr(kindOf(err))
	}
	a, err := e.stack.PopAsset()
	if err != nil {
		return e.newErr(kindOf(err))
	}

	var res asset.Asset
	var ok bool
	switch op {
	case OpAdd:
		res, ok = a.Add(b)
	case OpSub:
		res, ok = a.Sub(b)
	case OpMul:
		res, ok = a.Mul(b)
	case OpDiv:
		res, ok = a.Div(b)
	}
	if !ok {
		return e.newErr(KindErrArithmeticErr)
	}
	if pushErr := e.stack.Push(AssetValue(res)); pushErr != nil {
		return e.newErr(kindOf(pushErr))
	}
	return nil
}

func (e *Engine) popKeys(count uint8) ([]crypto.PublicKey, *EvalErr) {
	keys := make([]crypto.PublicKey, 0, count)
	for i := uint8(0); i < count; i++ {
		k, err := e.stack.PopPubKey()
		if err != nil {
			return nil, e.newErr(kindOf(err))
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// checkSigs scans unconsumed signature pairs in order, matching each
// against keys (consumed at most once). A SigPair whose public key matches
// a popped key but whose signature fails verification is a hard failure:
// it returns false immediately rather than continuing the scan.
func (e *Engine) checkSigs(threshold int, keys []crypto.PublicKey) bool {
	if threshold == 0 {
		return true
	}
	pairs := e.tx.SignaturePairs()
	if threshold > len(keys) || e.sigPairPos >= len(pairs) {
		return false
	}

	buf := e.tx.SigningEncoding()
	validCount := 0
	keyIdx := 0

	for e.sigPairPos < len(pairs) {
		pair := pairs[e.sigPairPos]
		e.sigPairPos++

		for keyIdx < len(keys) {
			key := keys[keyIdx]
			keyIdx++
			if key != pair.PubKey {
				continue
			}
			if key.Verify(buf, pair.Signature) {
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

// checkPerms looks up the AccountId on the stack and checks its
// Permissions. threshold == 0 uses the account's own configured
// threshold (a full permission check); a nonzero threshold allows the
// script to require fewer signatures than the account's configured floor.
func (e *Engine) checkPerms(threshold int) (bool, *EvalErr) {
	id, err := e.stack.PopAccountID()
	if err != nil {
		return false, e.newErr(kindOf(err))
	}
	acc, found := e.tx.LookupAccount(id)
	if !found {
		return false, e.newErr(KindErrAccountNotFound)
	}
	if threshold == 0 {
		threshold = int(acc.Permissions.Threshold)
	}
	return e.checkSigs(threshold, acc.Permissions.Keys), nil
}

func (e *Engine) doTransfer() *EvalErr {
	amount, err := e.stack.PopAsset()
	if err != nil {
		return e.newErr(kindOf(err))
	}
	to, err := e.stack.PopAccountID()
	if err != nil {
		return e.newErr(kindOf(err))
	}
	if to == e.tx.SelfAccountID() {
		return e.newErr(KindErrAborted)
	}
	target, found := e.tx.LookupAccount(to)
	if !found || target.Destroyed {
		return e.newErr(KindErrAccountNotFound)
	}

	newTransferred, ok := e.transferred.Add(amount)
	if !ok {
		return e.newErr(KindErrArithmeticErr)
	}
	e.transferred = newTransferred
	e.pendingLog = append(e.pendingLog, OpLogEntry{Kind: LogTransfer, To: to, Amount: amount})
	return nil
}

func (e *Engine) doDestroy() *EvalErr {
	sink, err := e.stack.PopAccountID()
	if err != nil {
		return e.newErr(kindOf(err))
	}
	self := e.tx.SelfAccountID()
	if sink == self {
		return e.newErr(KindErrAborted)
	}
	target, found := e.tx.LookupAccount(sink)
	if !found || target.Destroyed {
		return e.newErr(KindErrAccountNotFound)
	}
	e.pendingLog = append(e.pendingLog, OpLogEntry{Kind: LogDestroy, To: self, Sink: sink})
	return nil
}

// skipUntilBranch advances past opcodes (tracking nested If/Else/EndIf
// depth) until it finds the Else or EndIf matching reqMarker.
func (e *Engine) skipUntilBranch(ifMarker *int, reqMarker int) *EvalErr {
	for {
		op, ok, err := e.consumeOp()
		if err != nil {
			return err
		}
		if !ok {
			return e.newErr(KindErrUnexpectedEOF)
		}
		switch op.Op {
		case OpIf:
			*ifMarker++
		case OpElse:
			if *ifMarker == reqMarker {
				return nil
			}
		case OpEndIf:
			if *ifMarker == reqMarker {
				*ifMarker--
				return nil
			}
			*ifMarker--
		}
	}
}

func (e *Engine) consumeOp() (OpFrame, bool, *EvalErr) {
	body := e.program.Body
	if e.pos >= len(body) {
		return OpFrame{}, false, nil
	}
	e.opCount++
	if e.opCount > MaxOpCount {
		return OpFrame{}, false, e.newErr(KindErrUnexpectedEOF)
	}

	readU8 := func() (uint8, bool) {
		if e.pos >= len(body) {
			return 0, false
		}
		b := body[e.pos]
		e.pos++
		return b, true
	}
	readN := func(n int) ([]byte, bool) {
		if e.pos+n > len(body) {
			return nil, false
		}
		b := body[e.pos : e.pos+n]
		e.pos += n
		return b, true
	}

	opByte, ok := readU8()
	if !ok {
		return OpFrame{}, false, e.newErr(KindErrUnexpectedEOF)
	}

	switch Operand(opByte) {
	case OperandPushFalse:
		return OpFrame{Op: OpFalse}, true, nil
	case OperandPushTrue:
		return OpFrame{Op: OpTrue}, true, nil
	case OperandPushAccountID:
		b, ok := readN(8)
		if !ok {
			return OpFrame{}, false, e.newErr(KindErrUnexpectedEOF)
		}
		return OpFrame{Op: OpPushAccountID, AccountID: account.ID(beU64(b))}, true, nil
	case OperandPushAsset:
		b, ok := readN(8)
		if !ok {
			return OpFrame{}, false, e.newErr(KindErrUnexpectedEOF)
		}
		return OpFrame{Op: OpPushAsset, Asset: asset.New(int64(beU64(b)))}, true, nil
	case OperandPushPubKey:
		b, ok := readN(crypto.PublicKeySize)
		if !ok {
			return OpFrame{}, false, e.newErr(KindErrUnexpectedEOF)
		}
		pub, perr := crypto.PublicKeyFromBytes(b)
		if perr != nil {
			return OpFrame{}, false, e.newErr(KindErrUnexpectedEOF)
		}
		return OpFrame{Op: OpPushPubKey, PubKey: pub}, true, nil
	case OperandPushScriptHash:
		b, ok := readN(crypto.DigestSize)
		if !ok {
			return OpFrame{}, false, e.newErr(KindErrUnexpectedEOF)
		}
		var h crypto.Digest
		copy(h[:], b)
		return OpFrame{Op: OpPushScriptHash, ScriptHash: h}, true, nil

	case OperandOpLoadAmt:
		return OpFrame{Op: OpLoadAmt}, true, nil
	case OperandOpLoadRemAmt:
		return OpFrame{Op: OpLoadRemAmt}, true, nil
	case OperandOpAdd:
		return OpFrame{Op: OpAdd}, true, nil
	case OperandOpSub:
		return OpFrame{Op: OpSub}, true, nil
	case OperandOpMul:
		return OpFrame{Op: OpMul}, true, nil
	case OperandOpDiv:
		return OpFrame{Op: OpDiv}, true, nil

	case OperandOpNot:
		return OpFrame{Op: OpNot}, true, nil
	case OperandOpIf:
		return OpFrame{Op: OpIf}, true, nil
	case OperandOpElse:
		return OpFrame{Op: OpElse}, true, nil
	case OperandOpEndIf:
		return OpFrame{Op: OpEndIf}, true, nil
	case OperandOpReturn:
		return OpFrame{Op: OpReturn}, true, nil

	case OperandOpCheckSig:
		return OpFrame{Op: OpCheckSig}, true, nil
	case OperandOpCheckSigFastFail:
		return OpFrame{Op: OpCheckSigFastFail}, true, nil
	case OperandOpCheckMultiSig, OperandOpCheckMultiSigFastFail:
		threshold, ok1 := readU8()
		keyCount, ok2 := readU8()
		if !ok1 || !ok2 {
			return OpFrame{}, false, e.newErr(KindErrUnexpectedEOF)
		}
		op := OpCheckMultiSig
		if Operand(opByte) == OperandOpCheckMultiSigFastFail {
			op = OpCheckMultiSigFastFail
		}
		return OpFrame{Op: op, Threshold: threshold, KeyCount: keyCount}, true, nil

	case OperandOpCheckPerms:
		return OpFrame{Op: OpCheckPerms}, true, nil
	case OperandOpCheckPermsFastFail:
		return OpFrame{Op: OpCheckPermsFastFail}, true, nil
	case OperandOpCheckMultiPerms, OperandOpCheckMultiPermsFastFail:
		threshold, ok1 := readU8()
		if !ok1 {
			return OpFrame{}, false, e.newErr(KindErrUnexpectedEOF)
		}
		op := OpCheckMultiPerms
		if Operand(opByte) == OperandOpCheckMultiPermsFastFail {
			op = OpCheckMultiPermsFastFail
		}
		return OpFrame{Op: op, Threshold: threshold}, true, nil

	case OperandOpTransfer:
		return OpFrame{Op: OpTransfer}, true, nil
	case OperandOpDestroy:
		return OpFrame{Op: OpDestroy}, true, nil

	default:
		return OpFrame{}, false, e.newErr(KindErrUnknownOp)
	}
}

func (e *Engine) newErr(kind EvalErrKind) *EvalErr {
	return &EvalErr{Pos: uint32(e.pos), Kind: kind}
}

func beU64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

package tx

import (
	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/crypto"
	"github.com/godcoin-go/godcoin/serializer"
)

// LogEntryKind tags which field of a LogEntry is populated.
type LogEntryKind uint8

const (
	LogTransfer LogEntryKind = iota
	LogDestroy
)

// LogEntry is the persisted, wire-level form of a script side effect: an
// account balance change (Transfer) or an account being flagged destroyed
// with its remainder routed to Sink (Destroy). It mirrors script.OpLogEntry
// one-to-one but belongs to tx since a Receipt is part of the chain's
// canonical, replayable data rather than an in-flight evaluation detail.
type LogEntry struct {
	Kind   LogEntryKind
	To     account.ID
	Amount asset.Asset
	Sink   account.ID
}

// Encode appends the canonical encoding of the log entry to w.
func (e LogEntry) Encode(w *serializer.Writer) {
	w.PushU8(uint8(e.Kind))
	w.PushU64(uint64(e.To))
	switch e.Kind {
	case LogTransfer:
		e.Amount.Encode(w)
	case LogDestroy:
		w.PushU64(uint64(e.Sink))
	}
}

// DecodeLogEntry reads a LogEntry from r.
func DecodeLogEntry(r *serializer.Reader) (LogEntry, error) {
	kindByte, err := r.TakeU8()
	if err != nil {
		return LogEntry{}, err
	}
	if kindByte > uint8(LogDestroy) {
		return LogEntry{}, serializer.NewErr(serializer.ErrInvalidTag)
	}
	to, err := r.TakeU64()
	if err != nil {
		return LogEntry{}, err
	}
	e := LogEntry{Kind: LogEntryKind(kindByte), To: account.ID(to)}
	switch e.Kind {
	case LogTransfer:
		amt, err := asset.Decode(r)
		if err != nil {
			return LogEntry{}, err
		}
		e.Amount = amt
	case LogDestroy:
		sink, err := r.TakeU64()
		if err != nil {
			return LogEntry{}, err
		}
		e.Sink = account.ID(sink)
	}
	return e, nil
}

// Receipt is the execution record of a single transaction: its id and the
// ordered log of balance/account side effects it produced.
type Receipt struct {
	TxId Id
	Log  []LogEntry
}

// Encode appends the canonical encoding of the receipt to w.
func (rc Receipt) Encode(w *serializer.Writer) {
	w.PushRaw(rc.TxId[:])
	w.PushU32(uint32(len(rc.Log)))
	for _, e := range rc.Log {
		e.Encode(w)
	}
}

// DecodeReceipt reads a Receipt from r.
func DecodeReceipt(r *serializer.Reader) (Receipt, error) {
	raw, err := r.TakeRaw(crypto.DigestSize)
	if err != nil {
		return Receipt{}, err
	}
	var id Id
	copy(id[:], raw)

	count, err := r.TakeU32()
	if err != nil {
		return Receipt{}, err
	}
	log := make([]LogEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		e, err := DecodeLogEntry(r)
		if err != nil {
			return Receipt{}, err
		}
		log = append(log, e)
	}
	return Receipt{TxId: id, Log: log}, nil
}

// Block is an ordered bundle of transactions at a given height, together
// with the receipts produced by executing them in order; Receipts[i]
// corresponds to Transactions[i].
type Block struct {
	Height        uint64
	PreviousHash  crypto.Digest
	TimestampMs   uint64
	TxMerkleRoot  crypto.Digest
	Transactions  []*TxVariant
	Receipts      []Receipt
}

// Encode appends the canonical encoding of the block to w. Receipts are
// derived data (replayable from Transactions) and are not part of the
// signed/hashed encoding; they are persisted in the index's receipts
// column, out-of-band of the block log entry and of SigningEncoding/Hash.
func (b *Block) Encode(w *serializer.Writer) {
	w.PushU64(b.Height)
	w.PushRaw(b.PreviousHash[:])
	w.PushU64(b.TimestampMs)
	w.PushRaw(b.TxMerkleRoot[:])
	w.PushU32(uint32(len(b.Transactions)))
	for _, t := range b.Transactions {
		t.encode(w)
	}
}

// DecodeBlock reads a Block's header and transaction list from r. Receipts
// are not part of the wire encoding and must be supplied separately (either
// recomputed by re-execution or read from the adjoining index record).
func DecodeBlock(r *serializer.Reader) (*Block, error) {
	height, err := r.TakeU64()
	if err != nil {
		return nil, err
	}
	prevRaw, err := r.TakeRaw(crypto.DigestSize)
	if err != nil {
		return nil, err
	}
	var prevHash crypto.Digest
	copy(prevHash[:], prevRaw)

	ts, err := r.TakeU64()
	if err != nil {
		return nil, err
	}
	rootRaw, err := r.TakeRaw(crypto.DigestSize)
	if err != nil {
		return nil, err
	}
	var root crypto.Digest
	copy(root[:], rootRaw)

	txCount, err := r.TakeU32()
	if err != nil {
		return nil, err
	}
	txs := make([]*TxVariant, 0, txCount)
	for i := uint32(0); i < txCount; i++ {
		t, err := decode(r)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}

	return &Block{
		Height:       height,
		PreviousHash: prevHash,
		TimestampMs:  ts,
		TxMerkleRoot: root,
		Transactions: txs,
	}, nil
}

// Hash derives the block's identity digest from its canonical encoding
// (excluding receipts), used as the next block's PreviousHash.
func (b *Block) Hash() crypto.Digest {
	w := newWriter()
	b.Encode(w)
	return crypto.DoubleSha256(w.Bytes())
}

// CalcTxMerkleRoot derives a Merkle root over the block's transaction ids.
// With zero transactions the root is the zero digest; with one, the root is
// that transaction's own id; otherwise pairs are hashed up the tree,
// duplicating the final element of an odd level as is conventional.
func CalcTxMerkleRoot(txs []*TxVariant) crypto.Digest {
	if len(txs) == 0 {
		return crypto.Digest{}
	}
	level := make([][]byte, len(txs))
	for i, t := range txs {
		id := t.Id()
		level[i] = append([]byte(nil), id[:]...)
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, len(level)/2)
		for i := 0; i < len(next); i++ {
			combined := append(append([]byte(nil), level[2*i]...), level[2*i+1]...)
			d := crypto.DoubleSha256(combined)
			next[i] = d[:]
		}
		level = next
	}
	var root crypto.Digest
	copy(root[:], level[0])
	return root
}

// SignedBlock is a Block together with the minter's signature over its
// canonical encoding; this is the form appended to the block log and
// gossiped to peers.
type SignedBlock struct {
	Block     Block
	SigPair   crypto.SigPair
}

// Encode appends the canonical encoding of the signed block (header,
// transactions, then the minter's signature pair) to w.
func (sb *SignedBlock) Encode(w *serializer.Writer) {
	sb.Block.Encode(w)
	sb.SigPair.Encode(w)
}

// DecodeSignedBlock reads a SignedBlock from r.
func DecodeSignedBlock(r *serializer.Reader) (*SignedBlock, error) {
	b, err := DecodeBlock(r)
	if err != nil {
		return nil, err
	}
	sp, err := crypto.DecodeSigPair(r)
	if err != nil {
		return nil, err
	}
	return &SignedBlock{Block: *b, SigPair: sp}, nil
}

// SignWith signs the block's canonical encoding and records the resulting
// SigPair, producing the SignedBlock appended to the log.
func SignWith(b Block, kp crypto.KeyPair) *SignedBlock {
	w := newWriter()
	b.Encode(w)
	sig := kp.Sign(w.Bytes())
	return &SignedBlock{
		Block: b,
		SigPair: crypto.SigPair{
			PubKey:    kp.Public,
			Signature: sig,
		},
	}
}

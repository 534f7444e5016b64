// Package rpc defines GodCoin's wire request/response contract: the
// length-prefixed binary messages an external façade (HTTP, a unix socket,
// whatever transport ends up in front of it) would exchange with the core.
// The core itself never listens on a socket; Handler.Handle takes and
// returns raw bytes so a transport can be bolted on without this package
// knowing anything about it.
package rpc

import (
	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/blockchain"
	"github.com/godcoin-go/godcoin/serializer"
	"github.com/godcoin-go/godcoin/tx"
)

// RequestTag identifies which request variant is populated.
type RequestTag uint8

const (
	ReqGetProperties RequestTag = iota
	ReqGetBlock
	ReqGetAccountInfo
	ReqBroadcast
	ReqBatch
)

// Request is a tagged union over the five request shapes the wire contract
// allows. Exactly one of the variant-specific fields is meaningful,
// selected by Tag, the same discriminated-union discipline tx.TxVariant
// uses for transactions.
type Request struct {
	Tag RequestTag

	Height    uint64     // ReqGetBlock
	AccountID account.ID // ReqGetAccountInfo
	Tx        *tx.TxVariant // ReqBroadcast
	Batch     []*Request    // ReqBatch
}

// Encode appends the canonical encoding of req to w.
func (req *Request) Encode(w *serializer.Writer) {
	w.PushU8(uint8(req.Tag))
	switch req.Tag {
	case ReqGetBlock:
		w.PushU64(req.Height)
	case ReqGetAccountInfo:
		w.PushU64(uint64(req.AccountID))
	case ReqBroadcast:
		req.Tx.Encode(w)
	case ReqBatch:
		w.PushU32(uint32(len(req.Batch)))
		for _, sub := range req.Batch {
			sub.Encode(w)
		}
	}
}

// DecodeRequest reads a Request from r. An out-of-range tag byte or a
// short read both surface as a serializer.Error; callers never see a
// panic regardless of how malformed r's contents are.
func DecodeRequest(r *serializer.Reader) (req *Request, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			req, err = nil, serializer.NewErr(serializer.ErrIo)
		}
	}()

	tagByte, err := r.TakeU8()
	if err != nil {
		return nil, err
	}
	if tagByte > uint8(ReqBatch) {
		return nil, serializer.NewErr(serializer.ErrInvalidTag)
	}
	req = &Request{Tag: RequestTag(tagByte)}

	switch req.Tag {
	case ReqGetBlock:
		h, err := r.TakeU64()
		if err != nil {
			return nil, err
		}
		req.Height = h

	case ReqGetAccountInfo:
		id, err := r.TakeU64()
		if err != nil {
			return nil, err
		}
		req.AccountID = account.ID(id)

	case ReqBroadcast:
		v, err := tx.DecodeFromReader(r)
		if err != nil {
			return nil, err
		}
		req.Tx = v

	case ReqBatch:
		count, err := r.TakeU32()
		if err != nil {
			return nil, err
		}
		if count > MaxBatchSize {
			return nil, serializer.NewErr(serializer.ErrInvalidTag)
		}
		batch := make([]*Request, 0, count)
		for i := uint32(0); i < count; i++ {
			sub, err := DecodeRequest(r)
			if err != nil {
				return nil, err
			}
			batch = append(batch, sub)
		}
		req.Batch = batch
	}
	return req, nil
}

// MaxBatchSize bounds how many sub-requests a single ReqBatch may carry,
// so a malformed or hostile length prefix can't drive an unbounded
// allocation before the underlying reader even runs out of bytes.
const MaxBatchSize = 1024

// ResponseTag identifies which response variant is populated.
type ResponseTag uint8

const (
	RespProperties ResponseTag = iota
	RespBlock
	RespAccountInfo
	RespBroadcast
	RespBatch
	RespError
)

// ErrorKind classifies why a request could not be satisfied.
type ErrorKind uint8

const (
	// ErrIo mirrors a serializer decode failure (short read).
	ErrIo ErrorKind = iota
	// ErrInvalidTag mirrors an out-of-range discriminant.
	ErrInvalidTag
	// ErrBytesRemaining mirrors undecoded trailing bytes.
	ErrBytesRemaining
	// ErrNotFound covers a GetBlock/GetAccountInfo lookup that missed.
	ErrNotFound
	// ErrTx covers a Broadcast that failed transaction verification.
	ErrTx
	// ErrInternal covers anything else, including a recovered panic.
	ErrInternal
)

// Response mirrors Request: exactly one field is meaningful per Tag.
type Response struct {
	Tag ResponseTag

	Properties blockchain.Properties // RespProperties
	Block      *tx.SignedBlock       // RespBlock
	Receipts   []tx.Receipt          // RespBlock
	Account    *account.Account      // RespAccountInfo
	Receipt    tx.Receipt            // RespBroadcast
	Batch      []*Response           // RespBatch
	Err        ErrorKind             // RespError
}

// Encode appends the canonical encoding of resp to w.
func (resp *Response) Encode(w *serializer.Writer) {
	w.PushU8(uint8(resp.Tag))
	switch resp.Tag {
	case RespProperties:
		w.PushU64(resp.Properties.Height)
		w.PushBool(resp.Properties.Owner != nil)
		if resp.Properties.Owner != nil {
			resp.Properties.Owner.Encode(w)
		}
		resp.Properties.TokenSupply.Encode(w)

	case RespBlock:
		resp.Block.Encode(w)
		w.PushU32(uint32(len(resp.Receipts)))
		for _, rc := range resp.Receipts {
			rc.Encode(w)
		}

	case RespAccountInfo:
		resp.Account.Encode(w)

	case RespBroadcast:
		resp.Receipt.Encode(w)

	case RespBatch:
		w.PushU32(uint32(len(resp.Batch)))
		for _, sub := range resp.Batch {
			sub.Encode(w)
		}

	case RespError:
		w.PushU8(uint8(resp.Err))
	}
}

func errorResponse(kind ErrorKind) *Response { return &Response{Tag: RespError, Err: kind} }

// DecodeResponse reads a Response from r, with the same no-panic
// guarantee as DecodeRequest.
func DecodeResponse(r *serializer.Reader) (resp *Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resp, err = nil, serializer.NewErr(serializer.ErrIo)
		}
	}()

	tagByte, err := r.TakeU8()
	if err != nil {
		return nil, err
	}
	if tagByte > uint8(RespError) {
		return nil, serializer.NewErr(serializer.ErrInvalidTag)
	}
	resp = &Response{Tag: ResponseTag(tagByte)}

	switch resp.Tag {
	case RespProperties:
		h, err := r.TakeU64()
		if err != nil {
			return nil, err
		}
		hasOwner, err := r.TakeBool()
		if err != nil {
			return nil, err
		}
		var owner *tx.TxVariant
		if hasOwner {
			owner, err = tx.DecodeFromReader(r)
			if err != nil {
				return nil, err
			}
		}
		supply, err := asset.Decode(r)
		if err != nil {
			return nil, err
		}
		resp.Properties = blockchain.Properties{Height: h, Owner: owner, TokenSupply: supply}

	case RespBlock:
		block, err := tx.DecodeSignedBlock(r)
		if err != nil {
			return nil, err
		}
		count, err := r.TakeU32()
		if err != nil {
			return nil, err
		}
		receipts := make([]tx.Receipt, 0, count)
		for i := uint32(0); i < count; i++ {
			rc, err := tx.DecodeReceipt(r)
			if err != nil {
				return nil, err
			}
			receipts = append(receipts, rc)
		}
		resp.Block = block
		resp.Receipts = receipts

	case RespAccountInfo:
		acc, err := account.Decode(r)
		if err != nil {
			return nil, err
		}
		resp.Account = acc

	case RespBroadcast:
		rc, err := tx.DecodeReceipt(r)
		if err != nil {
			return nil, err
		}
		resp.Receipt = rc

	case RespBatch:
		count, err := r.TakeU32()
		if err != nil {
			return nil, err
		}
		if count > MaxBatchSize {
			return nil, serializer.NewErr(serializer.ErrInvalidTag)
		}
		batch := make([]*Response, 0, count)
		for i := uint32(0); i < count; i++ {
			sub, err := DecodeResponse(r)
			if err != nil {
				return nil, err
			}
			batch = append(batch, sub)
		}
		resp.Batch = batch

	case RespError:
		kind, err := r.TakeU8()
		if err != nil {
			return nil, err
		}
		resp.Err = ErrorKind(kind)
	}
	return resp, nil
}


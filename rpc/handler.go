package rpc

import (
	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/blockchain"
	"github.com/godcoin-go/godcoin/logs"
	"github.com/godcoin-go/godcoin/mempool"
	"github.com/godcoin-go/godcoin/serializer"
	"github.com/godcoin-go/godcoin/tx"
)

var log = logs.Logger(logs.RPC)

// Handler dispatches decoded Requests against a chain and its mempool. It
// holds no transport-specific state; whatever façade ends up in front of
// it (HTTP, a unix socket) only needs to pass it bytes.
type Handler struct {
	actor *blockchain.Actor
	pool  *mempool.TxPool
}

// NewHandler returns a Handler serving reads off actor and admitting
// broadcasts through pool.
func NewHandler(actor *blockchain.Actor, pool *mempool.TxPool) *Handler {
	return &Handler{actor: actor, pool: pool}
}

// Handle decodes raw as a Request, dispatches it, and returns the
// encoded Response bytes. It never panics: a malformed raw buffer becomes
// an Error(Io)/Error(BytesRemaining) response, and any panic surfacing
// from deeper in the stack during dispatch is recovered into
// Error(Internal) rather than propagating, since one bad request must
// never bring down the process serving every other request.
func (h *Handler) Handle(raw []byte, nowMs uint64) []byte {
	resp := h.handle(raw, nowMs)
	w := serializer.NewWriter(256)
	resp.Encode(w)
	return w.Bytes()
}

func (h *Handler) handle(raw []byte, nowMs uint64) (resp *Response) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("recovered panic handling request: %v", rec)
			resp = errorResponse(ErrInternal)
		}
	}()

	r := serializer.NewReader(raw)
	req, err := DecodeRequest(r)
	if err != nil {
		return responseForDecodeErr(err)
	}
	if err := r.Finish(); err != nil {
		return errorResponse(ErrBytesRemaining)
	}
	return h.dispatch(req, nowMs)
}

func responseForDecodeErr(err error) *Response {
	if se, ok := err.(*serializer.Error); ok {
		switch se.Kind {
		case serializer.ErrBytesRemaining:
			return errorResponse(ErrBytesRemaining)
		}
	}
	return errorResponse(ErrIo)
}

func (h *Handler) dispatch(req *Request, nowMs uint64) *Response {
	switch req.Tag {
	case ReqGetProperties:
		return h.handleGetProperties()
	case ReqGetBlock:
		return h.handleGetBlock(req.Height)
	case ReqGetAccountInfo:
		return h.handleGetAccountInfo(req.AccountID)
	case ReqBroadcast:
		return h.handleBroadcast(req.Tx, nowMs)
	case ReqBatch:
		return h.handleBatch(req.Batch, nowMs)
	default:
		return errorResponse(ErrInvalidTag)
	}
}

func (h *Handler) handleGetProperties() *Response {
	props, err := h.actor.Chain().GetProperties()
	if err != nil {
		log.Warnf("get properties: %v", err)
		return errorResponse(ErrInternal)
	}
	return &Response{Tag: RespProperties, Properties: props}
}

func (h *Handler) handleGetBlock(height uint64) *Response {
	sb, receipts, err := h.actor.Chain().GetBlock(height)
	if err != nil {
		return errorResponse(ErrNotFound)
	}
	return &Response{Tag: RespBlock, Block: sb, Receipts: receipts}
}

func (h *Handler) handleGetAccountInfo(id account.ID) *Response {
	acc, ok, err := h.actor.Chain().GetAccount(id)
	if err != nil {
		log.Warnf("get account %d: %v", id, err)
		return errorResponse(ErrInternal)
	}
	if !ok {
		return errorResponse(ErrNotFound)
	}
	return &Response{Tag: RespAccountInfo, Account: acc}
}

func (h *Handler) handleBroadcast(v *tx.TxVariant, nowMs uint64) *Response {
	if v == nil {
		return errorResponse(ErrInvalidTag)
	}
	if err := h.pool.ProcessTransaction(v, nowMs); err != nil {
		log.Debugf("rejected broadcast %s: %v", v.Id(), err)
		return errorResponse(ErrTx)
	}
	return &Response{Tag: RespBroadcast, Receipt: tx.Receipt{TxId: v.Id()}}
}

func (h *Handler) handleBatch(reqs []*Request, nowMs uint64) *Response {
	out := make([]*Response, 0, len(reqs))
	for _, sub := range reqs {
		out = append(out, h.dispatch(sub, nowMs))
	}
	return &Response{Tag: RespBatch, Batch: out}
}

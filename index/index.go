// Package index implements GodCoin's leveldb-backed indexer: block byte
// offsets, account records, the tx-id expiry set and a handful of singleton
// chain properties, all committed through atomic batches. The storage shape
// follows the teacher's database/ffldb package (bucket-prefixed keys over a
// single goleveldb handle, a thin cursor for prefix scans) generalized from
// ffldb's metadata/block-store split down to a single flat keyspace, since
// GodCoin's index has no block bodies of its own to store (those live in
// the block log).
package index

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/logs"
	"github.com/godcoin-go/godcoin/serializer"
	"github.com/godcoin-go/godcoin/tx"
)

var log = logs.Logger(logs.Index)

// Status tracks whether the index fully reflects the block log on disk.
type Status uint8

const (
	StatusNone Status = iota
	StatusPartial
	StatusComplete
)

// TxExpiryAdjustment is the grace window, in milliseconds, subtracted from
// "now" before a tx-id expiry entry becomes eligible for purging. It exists
// so a transaction that is still circulating in the gossip layer at the
// instant its expiry elapses isn't immediately eligible for replay once its
// entry is gone.
const TxExpiryAdjustment = 30 * 1000

// column prefixes. A leading byte keeps the keyspace partitioned without
// needing one leveldb handle per logical bucket.
const (
	prefixBlockPos byte = iota
	prefixAccount
	prefixTxExpiry
	prefixReceipts
	prefixSingleton
)

// singleton keys, namespaced under prefixSingleton.
const (
	keyNetworkOwner byte = iota
	keyChainHeight
	keyTokenSupply
	keyIndexStatus
)

// Index is the leveldb-backed key-value store fronting the blockchain
// state machine's reads. All mutation happens through a Batch so that one
// block's worth of updates commits atomically.
type Index struct {
	db *leveldb.DB
}

// Open opens (creating if absent) the leveldb database rooted at path.
func Open(path string) (*Index, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "index: open")
	}
	log.Debugf("opened index: %s", path)
	return &Index{db: db}, nil
}

// Close releases the underlying leveldb handle.
func (idx *Index) Close() error {
	return errors.Wrap(idx.db.Close(), "index: close")
}

func blockPosKey(height uint64) []byte {
	k := make([]byte, 9)
	k[0] = prefixBlockPos
	binary.BigEndian.PutUint64(k[1:], height)
	return k
}

func accountKey(id account.ID) []byte {
	k := make([]byte, 9)
	k[0] = prefixAccount
	binary.BigEndian.PutUint64(k[1:], uint64(id))
	return k
}

func txExpiryKey(id tx.Id) []byte {
	k := make([]byte, 1+len(id))
	k[0] = prefixTxExpiry
	copy(k[1:], id[:])
	return k
}

func singletonKey(k byte) []byte {
	return []byte{prefixSingleton, k}
}

func receiptsKey(height uint64) []byte {
	k := make([]byte, 9)
	k[0] = prefixReceipts
	binary.BigEndian.PutUint64(k[1:], height)
	return k
}

// GetBlockPos returns the byte offset of the block at height within the
// block log.
func (idx *Index) GetBlockPos(height uint64) (uint64, error) {
	v, err := idx.db.Get(blockPosKey(height), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return 0, errors.Errorf("index: no block at height %d", height)
		}
		return 0, errors.Wrap(err, "index: get block pos")
	}
	return binary.BigEndian.Uint64(v), nil
}

// GetAccount returns the account record for id, or ok=false if none exists.
func (idx *Index) GetAccount(id account.ID) (*account.Account, bool, error) {
	v, err := idx.db.Get(accountKey(id), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "index: get account")
	}
	acc, err := account.Decode(serializer.NewReader(v))
	if err != nil {
		return nil, false, errors.Wrap(err, "index: decode account")
	}
	return acc, true, nil
}

// GetChainHeight returns the height of the most recently committed block.
func (idx *Index) GetChainHeight() (uint64, error) {
	v, err := idx.db.Get(singletonKey(keyChainHeight), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return 0, errors.Wrap(err, "index: chain height not set")
		}
		return 0, errors.Wrap(err, "index: get chain height")
	}
	return binary.BigEndian.Uint64(v), nil
}

// GetTokenSupply returns the total minted supply recorded at the last
// committed block.
func (idx *Index) GetTokenSupply() (asset.Asset, error) {
	v, err := idx.db.Get(singletonKey(keyTokenSupply), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return asset.Asset{}, errors.Wrap(err, "index: token supply not set")
		}
		return asset.Asset{}, errors.Wrap(err, "index: get token supply")
	}
	return asset.Decode(serializer.NewReader(v))
}

// GetNetworkOwner returns the current network-owner OwnerTx.
func (idx *Index) GetNetworkOwner() (*tx.TxVariant, error) {
	v, err := idx.db.Get(singletonKey(keyNetworkOwner), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, errors.Wrap(err, "index: network owner not set")
		}
		return nil, errors.Wrap(err, "index: get network owner")
	}
	return tx.Decode(v)
}

// GetStatus reports whether the index fully reflects the block log.
func (idx *Index) GetStatus() (Status, error) {
	v, err := idx.db.Get(singletonKey(keyIndexStatus), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return StatusNone, nil
		}
		return StatusNone, errors.Wrap(err, "index: get status")
	}
	return Status(v[0]), nil
}

// GetReceipts returns the persisted receipts for the block at height.
func (idx *Index) GetReceipts(height uint64) ([]tx.Receipt, error) {
	v, err := idx.db.Get(receiptsKey(height), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, errors.Errorf("index: no receipts at height %d", height)
		}
		return nil, errors.Wrap(err, "index: get receipts")
	}
	r := serializer.NewReader(v)
	count, err := r.TakeU32()
	if err != nil {
		return nil, err
	}
	out := make([]tx.Receipt, 0, count)
	for i := uint32(0); i < count; i++ {
		rc, err := tx.DecodeReceipt(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

// IsTxIdKnown reports whether id is present in the expiry set, i.e. whether
// it has already been included in a block and not yet purged.
func (idx *Index) IsTxIdKnown(id tx.Id) (bool, error) {
	_, err := idx.db.Get(txExpiryKey(id), nil)
	if err == nil {
		return true, nil
	}
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	return false, errors.Wrap(err, "index: get tx expiry")
}

// Batch accumulates one block's worth of index mutations for an atomic
// commit. The teacher's ffldb cache batches all of one update under a
// single leveldb.Batch; this generalizes that to GodCoin's flat keyspace.
type Batch struct {
	b *leveldb.Batch
}

// NewBatch returns an empty Batch.
func NewBatch() *Batch { return &Batch{b: new(leveldb.Batch)} }

// PutBlockPos stages a block-height-to-byte-offset mapping.
func (b *Batch) PutBlockPos(height, pos uint64) {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], pos)
	b.b.Put(blockPosKey(height), v[:])
}

// PutAccount stages an account record update.
func (b *Batch) PutAccount(acc *account.Account) {
	w := serializer.NewWriter(64)
	acc.Encode(w)
	b.b.Put(accountKey(acc.ID), w.Bytes())
}

// PutTxExpiry stages a tx-id's entry into the expiry set.
func (b *Batch) PutTxExpiry(id tx.Id, expiryMs uint64) {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], expiryMs)
	b.b.Put(txExpiryKey(id), v[:])
}

// PutReceipts stages the receipt list produced by executing the block at
// height.
func (b *Batch) PutReceipts(height uint64, receipts []tx.Receipt) {
	w := newTxWriter()
	w.PushU32(uint32(len(receipts)))
	for _, rc := range receipts {
		rc.Encode(w)
	}
	b.b.Put(receiptsKey(height), w.Bytes())
}

// PutTokenSupply stages an update to the total minted supply singleton.
func (b *Batch) PutTokenSupply(supply asset.Asset) {
	w := serializer.NewWriter(8)
	supply.Encode(w)
	b.b.Put(singletonKey(keyTokenSupply), w.Bytes())
}

// PutNetworkOwner stages an update to the network-owner singleton.
func (b *Batch) PutNetworkOwner(owner *tx.TxVariant) {
	w := newTxWriter()
	owner.Encode(w)
	b.b.Put(singletonKey(keyNetworkOwner), w.Bytes())
}

// PutStatus stages an update to the index-status singleton.
func (b *Batch) PutStatus(s Status) {
	b.b.Put(singletonKey(keyIndexStatus), []byte{byte(s)})
}

// PutChainHeight stages the new chain-height singleton. Callers should
// populate every other field of the batch first — Commit always writes
// block offsets and account updates ahead of chain_height, so that a crash
// between fsyncs never leaves chain_height pointing past data that didn't
// make it to disk.
func (b *Batch) PutChainHeight(height uint64) {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], height)
	b.b.Put(singletonKey(keyChainHeight), v[:])
}

// Commit atomically applies the staged batch.
func (idx *Index) Commit(b *Batch) error {
	return errors.Wrap(idx.db.Write(b.b, nil), "index: commit batch")
}

// PurgeExpiredTxIds deletes every tx-id expiry entry whose expiry precedes
// nowMs - TxExpiryAdjustment, the garbage collection pass over the tx_expiry
// column described by the indexer's data model.
func (idx *Index) PurgeExpiredTxIds(nowMs uint64) error {
	if nowMs < TxExpiryAdjustment {
		return nil
	}
	cursor := nowMs - TxExpiryAdjustment

	iter := idx.db.NewIterator(util.BytesPrefix([]byte{prefixTxExpiry}), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		expiry := binary.BigEndian.Uint64(iter.Value())
		if expiry < cursor {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "index: purge expired tx ids")
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := idx.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "index: commit purge")
	}
	log.Debugf("purged %d expired tx ids", batch.Len())
	return nil
}

func newTxWriter() *serializer.Writer { return serializer.NewWriter(256) }

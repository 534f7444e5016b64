// Package blocklog implements GodCoin's append-only block log: a flat file
// of CRC32C-framed SignedBlock records, read back by byte offset supplied by
// the index, with a small height-keyed LRU in front of disk reads. The
// framing technique (length-prefixed, checksum-verified records appended
// under an explicit flush-before-ack discipline) follows the teacher's
// database/ffldb block-store design, adapted from ffldb's multi-file block
// store down to a single growing file since GodCoin has no multi-gigabyte
// rotation requirement within this scope.
package blocklog

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/godcoin-go/godcoin/logs"
	"github.com/godcoin-go/godcoin/serializer"
	"github.com/godcoin-go/godcoin/tx"
)

var log = logs.Logger(logs.BlockLog)

// MaxCacheSize bounds the number of decoded blocks kept in the read cache,
// beyond the two blocks (genesis and tail) that are always pinned.
const MaxCacheSize = 100

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ErrKind enumerates the ways a block log read can fail.
type ErrKind int

const (
	// ErrChecksum covers a frame whose payload doesn't match its checksum.
	ErrChecksum ErrKind = iota
	// ErrTruncated covers a frame cut short by a partial append.
	ErrTruncated
)

// Error wraps a block log read/decode failure.
type Error struct {
	Kind ErrKind
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrChecksum:
		return "blocklog: checksum mismatch"
	case ErrTruncated:
		return "blocklog: truncated frame"
	default:
		return "blocklog: unknown error"
	}
}

// BlockLog is an append-only file of framed, checksummed SignedBlocks.
type BlockLog struct {
	mu   sync.Mutex
	f    *os.File
	size int64

	cache  *lru.Cache
	genesis *tx.SignedBlock
	tail    *tx.SignedBlock
}

// Open opens (creating if absent) the block log file at path.
func Open(path string) (*BlockLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "blocklog: open")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "blocklog: stat")
	}
	cache, err := lru.New(MaxCacheSize)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "blocklog: new cache")
	}
	log.Debugf("opened block log: %s (%d bytes)", path, info.Size())
	return &BlockLog{f: f, size: info.Size(), cache: cache}, nil
}

// Close closes the underlying file.
func (bl *BlockLog) Close() error {
	return errors.Wrap(bl.f.Close(), "blocklog: close")
}

// Append encodes sb as a new checksummed frame, flushes it to disk, and
// returns the byte offset at which the frame begins. The write is flushed
// before this returns so the caller can safely record the offset in the
// index: a crash between the flush and the index commit leaves at worst an
// unreferenced trailing frame, never a referenced-but-missing one.
func (bl *BlockLog) Append(height uint64, sb *tx.SignedBlock) (int64, error) {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	w := serializer.NewWriter(256)
	sb.Encode(w)
	payload := w.Bytes()

	frame := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[4:8], crc32.Checksum(payload, crcTable))
	copy(frame[8:], payload)

	pos := bl.size
	if _, err := bl.f.WriteAt(frame, pos); err != nil {
		return 0, errors.Wrap(err, "blocklog: append")
	}
	if err := bl.f.Sync(); err != nil {
		return 0, errors.Wrap(err, "blocklog: sync")
	}
	bl.size += int64(len(frame))

	bl.cache.Add(height, sb)
	if height == 0 {
		bl.genesis = sb
	}
	bl.tail = sb

	return pos, nil
}

// ReadAt decodes the SignedBlock framed at byte offset pos, known to the
// caller to belong to height (used only for cache population, not trusted
// for correctness — the frame's own CRC is what's actually checked).
func (bl *BlockLog) ReadAt(pos int64, height uint64) (*tx.SignedBlock, error) {
	if height == 0 && bl.genesis != nil {
		return bl.genesis, nil
	}
	if bl.tail != nil && sameBlock(bl.tail, height) {
		return bl.tail, nil
	}
	if v, ok := bl.cache.Get(height); ok {
		return v.(*tx.SignedBlock), nil
	}

	bl.mu.Lock()
	defer bl.mu.Unlock()

	var lenBuf [8]byte
	if _, err := bl.f.ReadAt(lenBuf[:], pos); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, &Error{Kind: ErrTruncated}
		}
		return nil, errors.Wrap(err, "blocklog: read frame header")
	}
	payloadLen := binary.BigEndian.Uint32(lenBuf[0:4])
	wantCrc := binary.BigEndian.Uint32(lenBuf[4:8])

	payload := make([]byte, payloadLen)
	if _, err := bl.f.ReadAt(payload, pos+8); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, &Error{Kind: ErrTruncated}
		}
		return nil, errors.Wrap(err, "blocklog: read frame payload")
	}
	if crc32.Checksum(payload, crcTable) != wantCrc {
		log.Warnf("checksum mismatch reading block at height %d, offset %d", height, pos)
		return nil, &Error{Kind: ErrChecksum}
	}

	sb, err := tx.DecodeSignedBlock(serializer.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "blocklog: decode block")
	}

	bl.cache.Add(height, sb)
	return sb, nil
}

func sameBlock(sb *tx.SignedBlock, height uint64) bool { return sb.Block.Height == height }

// Scan walks every frame from the start of the log in order, decoding and
// handing each SignedBlock together with its byte offset to fn. It stops
// and returns fn's error if fn returns non-nil, and resets the in-memory
// genesis/tail pins and cache as it goes so the log ends up consistent
// with a full re-read (used by reindexing to rebuild the index from an
// intact log without trusting any prior index state).
func (bl *BlockLog) Scan(fn func(pos int64, sb *tx.SignedBlock) error) error {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	var pos int64
	for pos < bl.size {
		var lenBuf [8]byte
		if _, err := bl.f.ReadAt(lenBuf[:], pos); err != nil {
			return errors.Wrap(err, "blocklog: scan read frame header")
		}
		payloadLen := binary.BigEndian.Uint32(lenBuf[0:4])
		wantCrc := binary.BigEndian.Uint32(lenBuf[4:8])

		payload := make([]byte, payloadLen)
		if _, err := bl.f.ReadAt(payload, pos+8); err != nil {
			return errors.Wrap(err, "blocklog: scan read frame payload")
		}
		if crc32.Checksum(payload, crcTable) != wantCrc {
			log.Warnf("checksum mismatch during scan at offset %d", pos)
			return &Error{Kind: ErrChecksum}
		}

		sb, err := tx.DecodeSignedBlock(serializer.NewReader(payload))
		if err != nil {
			return errors.Wrap(err, "blocklog: scan decode block")
		}

		framePos := pos
		pos += int64(8 + len(payload))

		if sb.Block.Height == 0 {
			bl.genesis = sb
		}
		bl.tail = sb
		bl.cache.Add(sb.Block.Height, sb)

		if err := fn(framePos, sb); err != nil {
			return err
		}
	}
	return nil
}

// TailHeight returns the height of the most recently appended block, and
// ok=false if the log is empty.
func (bl *BlockLog) TailHeight() (uint64, bool) {
	if bl.tail == nil {
		return 0, false
	}
	return bl.tail.Block.Height, true
}

// Size returns the current length of the log file in bytes, i.e. the byte
// offset the next Append will write at.
func (bl *BlockLog) Size() int64 {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return bl.size
}

package store

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
	"github.com/zhukovaskychina/hare-storage/util"
)

// WalPath returns the sibling log path of a page file.
func WalPath(path string) string {
	return path + ".wal"
}

// WalState is the lifecycle state persisted in the WAL header. Committed and
// aborted logs are sealed; appending to them is forbidden.
type WalState int32

const (
	WalStateOpen      WalState = 0
	WalStateCommitted WalState = 1
	WalStateAborted   WalState = 2
)

// WalAction enumerates the page-level operations a WAL entry can record.
type WalAction int32

const (
	ActionUpdate         WalAction = 0
	ActionAllocateAppend WalAction = 1
	ActionAllocateReuse  WalAction = 2
	ActionFree           WalAction = 3
)

// WAL file layout constants.
const (
	walHeaderSize      = 128
	walOffMagic        = 0
	walOffType         = 8
	walOffVersion      = 12
	walOffState        = 16
	walOffEntries      = 20
	walOffTransferred  = 28
	walOffChecksum     = 36
	walOffCodec        = 44
	walOffTxId         = 48
	walEntryHeaderSize = 24 // sequence(8) + action(4) + pageId(8) + payloadSize(4)
)

// WalEntry is the fixed header of a single logged operation. Only UPDATE
// entries carry a payload (the full new page image, possibly compressed).
type WalEntry struct {
	Sequence    int64
	Action      WalAction
	PageId      basic.PageId
	PayloadSize int32
}

// WriteAheadLog is the append-only, single-writer log of page-level
// operations. The file is opened with synchronous write flags, so every
// append is durable when the call returns.
type WriteAheadLog struct {
	path     string
	file     *os.File
	pageSize int
	codec    Codec

	state       WalState
	entries     int64
	transferred int64
	crc         uint32
	txId        basic.TransactionId

	appendOff int64
}

// CreateWal creates a fresh log owned by the given transaction.
func CreateWal(path string, pageSize int, codec Codec, txId basic.TransactionId) (*WriteAheadLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR|os.O_SYNC, 0644)
	if err != nil {
		return nil, errors.Trace(err)
	}
	w := &WriteAheadLog{
		path:      path,
		file:      file,
		pageSize:  pageSize,
		codec:     codec,
		state:     WalStateOpen,
		txId:      txId,
		appendOff: walHeaderSize,
	}
	if err := w.writeHeader(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, errors.Trace(err)
	}
	return w, nil
}

// OpenWal loads an existing log and verifies its integrity: magic, version,
// entry chain and checksum. An incomplete or corrupt log yields
// DataCorruption; the caller decides whether that means discard.
func OpenWal(path string, pageSize int) (*WriteAheadLog, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0644)
	if err != nil {
		return nil, errors.Trace(err)
	}
	w := &WriteAheadLog{
		path:     path,
		file:     file,
		pageSize: pageSize,
	}
	if err := w.readHeader(); err != nil {
		file.Close()
		return nil, errors.Trace(err)
	}
	if err := w.scanEntries(); err != nil {
		file.Close()
		return nil, errors.Trace(err)
	}
	return w, nil
}

func (w *WriteAheadLog) writeHeader() error {
	buf := make([]byte, walHeaderSize)
	copy(buf[walOffMagic:], pages.Magic)
	binary.BigEndian.PutUint32(buf[walOffType:], uint32(pages.FileTypeWal))
	binary.BigEndian.PutUint32(buf[walOffVersion:], uint32(pages.FileVersion))
	binary.BigEndian.PutUint32(buf[walOffState:], uint32(w.state))
	binary.BigEndian.PutUint64(buf[walOffEntries:], uint64(w.entries))
	binary.BigEndian.PutUint64(buf[walOffTransferred:], uint64(w.transferred))
	binary.BigEndian.PutUint64(buf[walOffChecksum:], uint64(w.crc))
	binary.BigEndian.PutUint32(buf[walOffCodec:], uint32(w.codec.Id()))
	copy(buf[walOffTxId:], w.txId[:])
	_, err := w.file.WriteAt(buf, 0)
	return errors.Trace(err)
}

func (w *WriteAheadLog) readHeader() error {
	buf := make([]byte, walHeaderSize)
	if _, err := w.file.ReadAt(buf, 0); err != nil {
		return errors.Annotatef(basic.ErrDataCorruption, "short WAL header: %v", err)
	}
	if !bytes.Equal(buf[walOffMagic:walOffMagic+len(pages.Magic)], pages.Magic) {
		return errors.Annotatef(basic.ErrDataCorruption, "bad magic in WAL header")
	}
	if int32(binary.BigEndian.Uint32(buf[walOffType:])) != pages.FileTypeWal {
		return errors.Annotatef(basic.ErrDataCorruption, "not a WAL file")
	}
	if int32(binary.BigEndian.Uint32(buf[walOffVersion:])) != pages.FileVersion {
		return errors.Annotatef(basic.ErrDataCorruption, "unsupported WAL version")
	}
	w.state = WalState(binary.BigEndian.Uint32(buf[walOffState:]))
	w.entries = int64(binary.BigEndian.Uint64(buf[walOffEntries:]))
	w.transferred = int64(binary.BigEndian.Uint64(buf[walOffTransferred:]))
	w.crc = uint32(binary.BigEndian.Uint64(buf[walOffChecksum:]))
	codec, err := CodecFor(int32(binary.BigEndian.Uint32(buf[walOffCodec:])))
	if err != nil {
		return errors.Trace(err)
	}
	w.codec = codec
	copy(w.txId[:], buf[walOffTxId:walOffTxId+16])
	if w.entries < 0 || w.transferred < 0 || w.transferred > w.entries {
		return errors.Annotatef(basic.ErrDataCorruption, "inconsistent WAL counters")
	}
	return nil
}

// scanEntries walks the entry chain, validating sequence numbers and the
// running CRC32C against the stored checksum.
func (w *WriteAheadLog) scanEntries() error {
	var crc uint32
	off := int64(walHeaderSize)
	hdr := make([]byte, walEntryHeaderSize)
	for seq := int64(0); seq < w.entries; seq++ {
		if _, err := w.file.ReadAt(hdr, off); err != nil {
			return errors.Annotatef(basic.ErrDataCorruption, "truncated WAL entry %d: %v", seq, err)
		}
		entry := decodeEntryHeader(hdr)
		if entry.Sequence != seq {
			return errors.Annotatef(basic.ErrDataCorruption, "WAL sequence %d, want %d", entry.Sequence, seq)
		}
		if entry.PayloadSize < 0 || int(entry.PayloadSize) > w.pageSize {
			return errors.Annotatef(basic.ErrDataCorruption, "WAL entry %d payload size %d", seq, entry.PayloadSize)
		}
		crc = util.Crc32CUpdate(crc, hdr)
		off += walEntryHeaderSize
		if entry.PayloadSize > 0 {
			payload := make([]byte, entry.PayloadSize)
			if _, err := w.file.ReadAt(payload, off); err != nil {
				return errors.Annotatef(basic.ErrDataCorruption, "truncated WAL payload %d: %v", seq, err)
			}
			crc = util.Crc32CUpdate(crc, payload)
			off += int64(entry.PayloadSize)
		}
	}
	if crc != w.crc {
		return errors.Annotatef(basic.ErrDataCorruption, "WAL checksum mismatch: computed %d, stored %d", crc, w.crc)
	}
	w.appendOff = off
	return nil
}

func decodeEntryHeader(buf []byte) WalEntry {
	return WalEntry{
		Sequence:    int64(binary.BigEndian.Uint64(buf[0:])),
		Action:      WalAction(binary.BigEndian.Uint32(buf[8:])),
		PageId:      basic.PageId(binary.BigEndian.Uint64(buf[12:])),
		PayloadSize: int32(binary.BigEndian.Uint32(buf[20:])),
	}
}

func encodeEntryHeader(entry WalEntry) []byte {
	buf := make([]byte, walEntryHeaderSize)
	binary.BigEndian.PutUint64(buf[0:], uint64(entry.Sequence))
	binary.BigEndian.PutUint32(buf[8:], uint32(entry.Action))
	binary.BigEndian.PutUint64(buf[12:], uint64(entry.PageId))
	binary.BigEndian.PutUint32(buf[20:], uint32(entry.PayloadSize))
	return buf
}

func (w *WriteAheadLog) appendEntry(action WalAction, pageId basic.PageId, payload []byte) error {
	if w.state != WalStateOpen {
		return errors.Annotatef(basic.ErrWalSealed, "state %d", w.state)
	}
	entry := WalEntry{
		Sequence:    w.entries,
		Action:      action,
		PageId:      pageId,
		PayloadSize: int32(len(payload)),
	}
	hdr := encodeEntryHeader(entry)
	if _, err := w.file.WriteAt(hdr, w.appendOff); err != nil {
		return errors.Trace(err)
	}
	if len(payload) > 0 {
		if _, err := w.file.WriteAt(payload, w.appendOff+walEntryHeaderSize); err != nil {
			return errors.Trace(err)
		}
	}
	w.crc = util.Crc32CUpdate(w.crc, hdr)
	w.crc = util.Crc32CUpdate(w.crc, payload)
	w.entries++
	w.appendOff += walEntryHeaderSize + int64(len(payload))
	return errors.Trace(w.writeHeader())
}

// LogUpdate appends an UPDATE entry carrying the full new page image.
func (w *WriteAheadLog) LogUpdate(pageId basic.PageId, page *pages.Page) error {
	payload := w.codec.Compress(page.Data())
	if len(payload) >= w.pageSize {
		payload = page.Data()
	}
	return errors.Trace(w.appendEntry(ActionUpdate, pageId, payload))
}

// LogAllocateAppend records an allocation that grew the file to pageId.
func (w *WriteAheadLog) LogAllocateAppend(pageId basic.PageId) error {
	return errors.Trace(w.appendEntry(ActionAllocateAppend, pageId, nil))
}

// LogAllocateReuse records an allocation that consumed pageId from the free
// stack.
func (w *WriteAheadLog) LogAllocateReuse(pageId basic.PageId) error {
	return errors.Trace(w.appendEntry(ActionAllocateReuse, pageId, nil))
}

// LogFree records the freeing of pageId.
func (w *WriteAheadLog) LogFree(pageId basic.PageId) error {
	return errors.Trace(w.appendEntry(ActionFree, pageId, nil))
}

// LogCommit seals the log as COMMITTED.
func (w *WriteAheadLog) LogCommit() error {
	if w.state != WalStateOpen {
		return errors.Annotatef(basic.ErrWalSealed, "state %d", w.state)
	}
	w.state = WalStateCommitted
	return errors.Trace(w.writeHeader())
}

// LogAbort seals the log as ABORTED.
func (w *WriteAheadLog) LogAbort() error {
	if w.state != WalStateOpen {
		return errors.Annotatef(basic.ErrWalSealed, "state %d", w.state)
	}
	w.state = WalStateAborted
	return errors.Trace(w.writeHeader())
}

// Replay feeds every untransferred entry, in sequence order, to consumer.
// The transferred counter in the header advances after each applied entry,
// so a replay interrupted by a crash resumes where it stopped.
func (w *WriteAheadLog) Replay(consumer func(entry WalEntry, payload *pages.Page) error) error {
	if w.state != WalStateCommitted {
		return errors.Annotatef(basic.ErrWalSealed, "replay of a WAL in state %d", w.state)
	}
	off := int64(walHeaderSize)
	hdr := make([]byte, walEntryHeaderSize)
	scratchRaw := make([]byte, w.pageSize)
	scratch := pages.Wrap(make([]byte, w.pageSize))
	for seq := int64(0); seq < w.entries; seq++ {
		if _, err := w.file.ReadAt(hdr, off); err != nil {
			return errors.Annotatef(basic.ErrDataCorruption, "truncated WAL entry %d: %v", seq, err)
		}
		entry := decodeEntryHeader(hdr)
		off += walEntryHeaderSize
		var payload *pages.Page
		if entry.PayloadSize > 0 {
			raw := scratchRaw[:entry.PayloadSize]
			if _, err := w.file.ReadAt(raw, off); err != nil {
				return errors.Annotatef(basic.ErrDataCorruption, "truncated WAL payload %d: %v", seq, err)
			}
			if err := w.codec.Decompress(raw, scratch.Data()); err != nil {
				return errors.Trace(err)
			}
			payload = scratch
			off += int64(entry.PayloadSize)
		}
		if seq < w.transferred {
			continue
		}
		if err := consumer(entry, payload); err != nil {
			return errors.Trace(err)
		}
		w.transferred = seq + 1
		if err := w.writeHeader(); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// State returns the lifecycle state.
func (w *WriteAheadLog) State() WalState {
	return w.state
}

// Entries returns the number of logged operations.
func (w *WriteAheadLog) Entries() int64 {
	return w.entries
}

// Transferred returns how many entries have been applied to the main file.
func (w *WriteAheadLog) Transferred() int64 {
	return w.transferred
}

// TransactionId returns the owning transaction's id.
func (w *WriteAheadLog) TransactionId() basic.TransactionId {
	return w.txId
}

// Close closes the log file handle without removing the file.
func (w *WriteAheadLog) Close() error {
	return errors.Trace(w.file.Close())
}

// Remove closes the log and deletes the file.
func (w *WriteAheadLog) Remove() error {
	if err := w.file.Close(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.Remove(w.path))
}

package sink

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

// record format: [8 id][4 len][8 xxhash64 of payload][1 codec][len payload]
const recordHeaderLen = 21

// RecordID numbers the records of one file, starting at 1.
type RecordID uint64

type FileStats struct {
	Records   uint64
	LastID    RecordID
	SizeBytes int64
}

// FileSink appends delivery items to a framed, checksummed record file. A
// torn or corrupt tail left by a crash is cut off when the file is reopened.
type FileSink struct {
	mu        sync.Mutex
	path      string
	codec     Codec
	sync      bool
	file      *os.File
	writer    *bufio.Writer
	nextID    RecordID
	records   uint64
	sizeBytes int64
}

// NewFileSink opens dir/name.rec for appending. With fsync set every batch
// is synced to disk before WriteBatch returns.
func NewFileSink(dir, name string, codec Codec, fsync bool) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name+".rec")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	s := &FileSink{
		path:   path,
		codec:  codec,
		sync:   fsync,
		file:   f,
		writer: bufio.NewWriterSize(f, 1<<20),
	}
	if err := s.scanExisting(); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileSink) Name() string { return "file:" + s.path }

func (s *FileSink) Path() string { return s.path }

func (s *FileSink) scanExisting() error {
	rf, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer rf.Close()

	var (
		offset int64
		lastID RecordID
		count  uint64
	)
	err = readRecords(bufio.NewReader(rf), func(id RecordID, _ Codec, payload []byte) error {
		offset += recordHeaderLen + int64(len(payload))
		lastID = id
		count++
		return nil
	})
	if err != nil && !errors.Is(err, errTornRecord) {
		return err
	}

	if err := s.file.Truncate(offset); err != nil {
		return err
	}
	s.sizeBytes = offset
	s.nextID = lastID
	s.records = count
	return nil
}

var errTornRecord = errors.New("torn record")

// readRecords calls fn for every intact record. It returns errTornRecord
// (wrapped) at the first short or corrupt record and nil at a clean end.
func readRecords(r io.Reader, fn func(id RecordID, codec Codec, payload []byte) error) error {
	var hdr [recordHeaderLen]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: short header", errTornRecord)
			}
			return fmt.Errorf("record header: %w", err)
		}
		id := RecordID(binary.BigEndian.Uint64(hdr[0:8]))
		length := binary.BigEndian.Uint32(hdr[8:12])
		sum := binary.BigEndian.Uint64(hdr[12:20])
		codec := Codec(hdr[20])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: record %d body", errTornRecord, id)
			}
			return fmt.Errorf("record %d body: %w", id, err)
		}
		if xxhash.Sum64(payload) != sum {
			return fmt.Errorf("%w: record %d checksum", errTornRecord, id)
		}
		if err := fn(id, codec, payload); err != nil {
			return err
		}
	}
}

func (s *FileSink) WriteBatch(items []*domain.DeliveryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		raw, err := EncodeItem(item)
		if err != nil {
			return err
		}
		payload, codec, err := compress(s.codec, raw)
		if err != nil {
			return fmt.Errorf("compress %s/%d: %w", item.Stream, item.Seq, err)
		}

		id := s.nextID + 1
		var hdr [recordHeaderLen]byte
		binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(payload)))
		binary.BigEndian.PutUint64(hdr[12:20], xxhash.Sum64(payload))
		hdr[20] = byte(codec)

		if _, err := s.writer.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := s.writer.Write(payload); err != nil {
			return err
		}
		s.nextID = id
		s.records++
		s.sizeBytes += int64(recordHeaderLen + len(payload))
	}

	if err := s.writer.Flush(); err != nil {
		return err
	}
	if s.sync {
		return s.file.Sync()
	}
	return nil
}

// Iterate decodes every record with an id of at least from, in file order.
func (s *FileSink) Iterate(from RecordID, fn func(id RecordID, item *domain.DeliveryItem) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		return err
	}
	return ReadFile(s.path, from, fn)
}

// ReadFile iterates a record file without opening it for writing.
func ReadFile(path string, from RecordID, fn func(id RecordID, item *domain.DeliveryItem) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return readRecords(bufio.NewReader(f), func(id RecordID, codec Codec, payload []byte) error {
		if id < from {
			return nil
		}
		raw, err := decompress(codec, payload)
		if err != nil {
			return fmt.Errorf("record %d: %w", id, err)
		}
		item, err := DecodeItem(raw)
		if err != nil {
			return fmt.Errorf("record %d: %w", id, err)
		}
		return fn(id, item)
	})
}

func (s *FileSink) Stats() FileStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FileStats{Records: s.records, LastID: s.nextID, SizeBytes: s.sizeBytes}
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.writer.Flush(), s.file.Close())
}

var _ ports.Sink = (*FileSink)(nil)

package deadletter

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

const (
	recordHeaderLen = 12
	fileName        = "deadletter.log"
)

// ErrFull is returned once the file reached its size limit.
var ErrFull = errors.New("dead letter file full")

// Entry is one record a sink gave up on.
type Entry struct {
	ID       uint64          `json:"id"`
	Sink     string          `json:"sink"`
	Error    string          `json:"error"`
	At       time.Time       `json:"at"`
	Envelope domain.Envelope `json:"envelope"`
}

type Stats struct {
	Entries   uint64
	SizeBytes int64
}

// FileDeadLetter appends length-prefixed JSON entries to a single file.
// Entries are kept for inspection only and are never fed back into the
// pipeline.
type FileDeadLetter struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	writer    *bufio.Writer
	nextID    uint64
	sizeBytes int64
	maxBytes  int64
}

// NewFileDeadLetter opens or creates dir/deadletter.log. A maxBytes of
// zero disables the size limit.
func NewFileDeadLetter(dir string, maxBytes int64) (*FileDeadLetter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	dl := &FileDeadLetter{
		path:     path,
		file:     f,
		writer:   bufio.NewWriterSize(f, 64<<10),
		maxBytes: maxBytes,
	}
	if err := dl.scanExisting(); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	return dl, nil
}

// scanExisting recovers the last id and cuts off a torn trailing entry.
func (d *FileDeadLetter) scanExisting() error {
	rf, err := os.Open(d.path)
	if err != nil {
		return err
	}
	defer rf.Close()

	reader := bufio.NewReader(rf)
	var offset int64
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("dead letter scan header: %w", err)
		}
		id := binary.BigEndian.Uint64(hdr[0:8])
		length := binary.BigEndian.Uint32(hdr[8:12])
		if _, err := io.CopyN(io.Discard, reader, int64(length)); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("dead letter scan body: %w", err)
		}
		offset += recordHeaderLen + int64(length)
		d.nextID = id
	}

	if err := d.file.Truncate(offset); err != nil {
		return err
	}
	d.sizeBytes = offset
	return nil
}

func (d *FileDeadLetter) Append(sink string, env domain.Envelope, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return os.ErrClosed
	}

	entry := Entry{
		ID:       d.nextID + 1,
		Sink:     sink,
		At:       time.Now().UTC(),
		Envelope: env,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	size := int64(len(b) + recordHeaderLen)
	if d.maxBytes > 0 && d.sizeBytes+size > d.maxBytes {
		return ErrFull
	}

	// entry format: [8 bytes id][4 bytes len][len bytes json]
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], entry.ID)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))

	if err := d.write(hdr[:], b); err != nil {
		return errors.Join(err, d.rewind())
	}

	d.nextID = entry.ID
	d.sizeBytes += size
	return nil
}

func (d *FileDeadLetter) write(hdr, body []byte) error {
	if _, err := d.writer.Write(hdr); err != nil {
		return err
	}
	if _, err := d.writer.Write(body); err != nil {
		return err
	}
	return d.writer.Flush()
}

// rewind drops a partly written entry. bufio.Writer keeps its first error,
// so it is reset onto the file as well.
func (d *FileDeadLetter) rewind() error {
	d.writer.Reset(d.file)
	if err := d.file.Truncate(d.sizeBytes); err != nil {
		return fmt.Errorf("dead letter rewind: %w", err)
	}
	return nil
}

// Iterate calls fn for every entry with id >= from, oldest first.
func (d *FileDeadLetter) Iterate(from uint64, fn func(Entry) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writer != nil {
		if err := d.writer.Flush(); err != nil {
			return err
		}
	}
	return iterateFile(d.path, from, fn)
}

// ReadDir iterates the dead letter file in dir without opening it for writing.
func ReadDir(dir string, from uint64, fn func(Entry) error) error {
	return iterateFile(filepath.Join(dir, fileName), from, fn)
}

func iterateFile(path string, from uint64, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("dead letter truncated header: %w", err)
		}
		id := binary.BigEndian.Uint64(hdr[0:8])
		b := make([]byte, binary.BigEndian.Uint32(hdr[8:12]))
		if _, err := io.ReadFull(r, b); err != nil {
			return fmt.Errorf("corrupt dead letter file: %w", err)
		}
		if id < from {
			continue
		}

		var e Entry
		if err := json.Unmarshal(b, &e); err != nil {
			return fmt.Errorf("corrupt dead letter entry %d: %w", id, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

func (d *FileDeadLetter) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Entries: d.nextID, SizeBytes: d.sizeBytes}
}

func (d *FileDeadLetter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := errors.Join(d.writer.Flush(), d.file.Close())
	d.file = nil
	d.writer = nil
	return err
}

var _ ports.DeadLetter = (*FileDeadLetter)(nil)

// Package filetopic is a concrete, file-backed topic.Factory: the "local
// file" substrate named in spec §1's three example substrates. Grounded
// on internal/ingestion/wal.go's segment framing (length-prefixed,
// CRC32-checksummed records, fsync-for-durability) from the teacher,
// adapted from a per-stream WAL used for crash recovery into a
// topic.Topic's durable, append-only, multi-reader log.
//
// Each topic is one growing file under the factory's root directory.
// Each consumer group's read offset is persisted in a companion file next
// to it, so a process restart resumes a consumer group exactly where it
// left off — the property spec §4.6 step 2 relies on to make Migrator.Run
// resumable across restarts.
package filetopic

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/emilniklas/sequent/topic"
)

// magic identifies a topic log file, mirroring the teacher's WAL header
// convention of a fixed magic + version prefix.
var magic = [4]byte{'s', 'q', 'n', 't'}

const version uint16 = 1

// Factory vends Topics backed by files under Dir. Make is idempotent:
// repeated calls with the same name return the same *Topic and therefore
// the same file and offsets (spec §6).
type Factory struct {
	Dir string

	mu     sync.Mutex
	topics map[string]*Topic
}

// NewFactory constructs a Factory rooted at dir, creating it if absent.
func NewFactory(dir string) (*Factory, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create topic dir: %w", err)
	}
	return &Factory{Dir: dir, topics: make(map[string]*Topic)}, nil
}

func (f *Factory) Make(ctx context.Context, name string) (topic.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.topics[name]; ok {
		return t, nil
	}

	path := filepath.Join(f.Dir, name+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open topic log %s: %w", name, err)
	}

	var offsets []int64
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat topic log %s: %w", name, err)
	}
	if info.Size() == 0 {
		if err := writeHeader(file); err != nil {
			_ = file.Close()
			return nil, err
		}
	} else {
		offsets, err = scanOffsets(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("recover topic log %s: %w", name, err)
		}
	}

	t := &Topic{
		name:    name,
		dir:     f.Dir,
		path:    path,
		file:    file,
		offsets: offsets,
		groups:  make(map[string]*group),
	}
	t.cond = sync.NewCond(&t.mu)
	f.topics[name] = t
	return t, nil
}

func writeHeader(f *os.File) error {
	header := make([]byte, 6)
	copy(header[0:4], magic[:])
	binary.BigEndian.PutUint16(header[4:6], version)
	_, err := f.Write(header)
	return err
}

// scanOffsets walks an existing topic log, one record at a time, and
// returns the byte offset of each record's start. It is the recovery step
// a reopened log needs to rebuild the in-memory index Produce relies on to
// append, matching the teacher WAL's own Recover pass over segment files.
func scanOffsets(f *os.File) ([]int64, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	var offsets []int64
	cursor := int64(len(magic) + 2) // past the magic+version header
	header := make([]byte, 12)
	lenBuf := make([]byte, 4)
	for cursor < size {
		if _, err := f.ReadAt(header, cursor); err != nil {
			return nil, fmt.Errorf("read record header at %d: %w", cursor, err)
		}
		keyLen := int64(binary.BigEndian.Uint32(header[8:12]))
		if _, err := f.ReadAt(lenBuf, cursor+12+keyLen); err != nil {
			return nil, fmt.Errorf("read record length at %d: %w", cursor, err)
		}
		msgLen := int64(binary.BigEndian.Uint32(lenBuf))

		offsets = append(offsets, cursor)
		cursor += 12 + keyLen + 4 + msgLen + 4 // header + key + msgLen + msg + crc
	}
	return offsets, nil
}

// Topic is one append-only file, indexed in memory by byte offset per
// entry so consumer groups can seek directly to their cursor.
type Topic struct {
	name string
	dir  string
	path string

	mu      sync.Mutex
	cond    *sync.Cond
	file    *os.File
	offsets []int64 // byte offset of each record start, index = record index

	groupsMu sync.Mutex
	groups   map[string]*group
}

func (t *Topic) Name() string { return t.name }

func (t *Topic) Producer(ctx context.Context) (topic.Producer, error) {
	return &producer{t: t}, nil
}

type group struct {
	mu      sync.Mutex
	path    string
	offset  int64 // next record index to deliver
}

func (t *Topic) Consumer(ctx context.Context, cg topic.ConsumerGroup) (topic.Consumer, error) {
	t.groupsMu.Lock()
	defer t.groupsMu.Unlock()

	g, ok := t.groups[cg.Name]
	if !ok {
		g = &group{path: filepath.Join(t.dir, t.name+".offset."+cg.Name)}
		g.offset = loadOffset(g.path)
		if g.offset == -1 {
			// No persisted offset: honor the group's start policy.
			if cg.StartFrom == topic.End {
				t.mu.Lock()
				g.offset = int64(len(t.offsets))
				t.mu.Unlock()
			} else {
				g.offset = 0
			}
		}
		t.groups[cg.Name] = g
	}
	return &consumer{t: t, g: g}, nil
}

func loadOffset(path string) int64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func saveOffset(path string, offset int64) error {
	return os.WriteFile(path, []byte(strconv.FormatInt(offset, 10)), 0644)
}

type producer struct{ t *Topic }

// Produce appends a length-prefixed, CRC32-checksummed record and fsyncs
// before returning, matching spec §4.3's file-substrate durability
// guarantee ("bytes flushed").
func (p *producer) Produce(ctx context.Context, event topic.RawEvent) error {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()

	info, err := p.t.file.Stat()
	if err != nil {
		return fmt.Errorf("stat topic log: %w", err)
	}
	recordOffset := info.Size()

	keyLen := len(event.Key)
	msgLen := len(event.Message)
	buf := make([]byte, 8+4+keyLen+4+msgLen)
	binary.BigEndian.PutUint64(buf[0:8], uint64(event.TimestampMs))
	binary.BigEndian.PutUint32(buf[8:12], uint32(keyLen))
	copy(buf[12:12+keyLen], event.Key)
	off := 12 + keyLen
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(msgLen))
	copy(buf[off+4:], event.Message)

	crc := crc32.ChecksumIEEE(buf)
	crcBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(crcBuf, crc)

	if _, err := p.t.file.Write(buf); err != nil {
		return fmt.Errorf("write topic record: %w", err)
	}
	if _, err := p.t.file.Write(crcBuf); err != nil {
		return fmt.Errorf("write topic record checksum: %w", err)
	}
	if err := p.t.file.Sync(); err != nil {
		return fmt.Errorf("fsync topic log: %w", err)
	}

	p.t.offsets = append(p.t.offsets, recordOffset)
	p.t.cond.Broadcast()
	return nil
}

func (p *producer) Close(ctx context.Context) error { return nil }

type consumer struct {
	t *Topic
	g *group
}

// Consume reads and validates the next record at the group's cursor,
// blocking until it exists or ctx is cancelled (spec §4.3).
func (c *consumer) Consume(ctx context.Context) (topic.Envelope, error) {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()

	for {
		c.g.mu.Lock()
		idx := c.g.offset
		c.g.mu.Unlock()

		if idx < int64(len(c.t.offsets)) {
			event, err := readRecordAt(c.t.file, c.t.offsets[idx])
			if err != nil {
				return nil, err
			}
			return &envelope{consumer: c, index: idx, event: event}, nil
		}

		done := make(chan struct{})
		cancelled := false
		go func() {
			select {
			case <-ctx.Done():
			case <-done:
				return
			}
			c.t.mu.Lock()
			cancelled = true
			c.t.cond.Broadcast()
			c.t.mu.Unlock()
		}()
		c.t.cond.Wait()
		close(done)
		if cancelled || ctx.Err() != nil {
			return nil, nil
		}
	}
}

func readRecordAt(f *os.File, offset int64) (topic.RawEvent, error) {
	header := make([]byte, 12)
	if _, err := f.ReadAt(header, offset); err != nil {
		return topic.RawEvent{}, fmt.Errorf("read record header: %w", err)
	}
	ts := int64(binary.BigEndian.Uint64(header[0:8]))
	keyLen := binary.BigEndian.Uint32(header[8:12])

	rest := make([]byte, int(keyLen)+4)
	if _, err := f.ReadAt(rest, offset+12); err != nil {
		return topic.RawEvent{}, fmt.Errorf("read record key: %w", err)
	}
	var key []byte
	if keyLen > 0 {
		key = append([]byte{}, rest[:keyLen]...)
	}
	msgLen := binary.BigEndian.Uint32(rest[keyLen : keyLen+4])

	msgAndCRC := make([]byte, int(msgLen)+4)
	if _, err := f.ReadAt(msgAndCRC, offset+12+int64(keyLen)+4); err != nil {
		return topic.RawEvent{}, fmt.Errorf("read record payload: %w", err)
	}
	message := msgAndCRC[:msgLen]
	expectedCRC := binary.BigEndian.Uint32(msgAndCRC[msgLen:])

	full := make([]byte, 12+int(keyLen)+4+int(msgLen))
	copy(full, header)
	copy(full[12:], rest[:keyLen])
	binary.BigEndian.PutUint32(full[12+int(keyLen):], msgLen)
	copy(full[12+int(keyLen)+4:], message)
	if crc32.ChecksumIEEE(full) != expectedCRC {
		return topic.RawEvent{}, fmt.Errorf("topic log record at offset %d: checksum mismatch", offset)
	}

	return topic.RawEvent{TimestampMs: ts, Message: append([]byte{}, message...), Key: key}, nil
}

func (c *consumer) Close(ctx context.Context) error { return nil }

type envelope struct {
	consumer *consumer
	index    int64
	event    topic.RawEvent
}

func (e *envelope) Event() topic.RawEvent { return e.event }

// Ack advances and persists the group's cursor past this record, so a
// restarted process resumes after it (spec §4.6's resumability
// invariant).
func (e *envelope) Ack(ctx context.Context) error {
	e.consumer.g.mu.Lock()
	defer e.consumer.g.mu.Unlock()
	if e.consumer.g.offset == e.index {
		e.consumer.g.offset++
		if err := saveOffset(e.consumer.g.path, e.consumer.g.offset); err != nil {
			return fmt.Errorf("persist consumer group offset: %w", err)
		}
	}
	return nil
}

// Nack leaves the cursor where it is so the record is redelivered on the
// next Consume (spec §4.3, §6's at-least-once redelivery contract).
func (e *envelope) Nack(ctx context.Context, cause error) error {
	return nil
}

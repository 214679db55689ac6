// Package journal keeps an append-only JSONL record of the envelopes a
// session channel sent and received, for debugging a room after the fact.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

type Entry struct {
	Seq     int64           `json:"seq"`
	Time    time.Time       `json:"ts"`
	Dir     Direction       `json:"dir"`
	Tag     string          `json:"tag"`
	Payload json.RawMessage `json:"payload"`
}

// Journal is safe for concurrent use. A nil *Journal records nothing.
type Journal struct {
	path    string
	maxSize int
	entries []Entry
	seq     int64
	mu      sync.Mutex
	append  *os.File
}

// Path returns the journal file used for a room inside stateDir.
func Path(stateDir, roomKey string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(roomKey)
	return filepath.Join(stateDir, "journal-"+name+".jsonl")
}

// Open loads (or creates) the journal for roomKey. maxSize bounds the number
// of retained entries; the oldest are dropped first.
func Open(stateDir, roomKey string, maxSize int) (*Journal, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if maxSize <= 0 {
		maxSize = 10000
	}

	j := &Journal{
		path:    Path(stateDir, roomKey),
		maxSize: maxSize,
	}
	if err := j.load(); err != nil {
		return nil, err
	}
	if len(j.entries) > 0 {
		j.seq = j.entries[len(j.entries)-1].Seq
	}
	if err := j.openAppend(); err != nil {
		return nil, err
	}
	return j, nil
}

// Load reads a journal file without opening it for writing.
func Load(path string) ([]Entry, error) {
	j := &Journal{path: path}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j.entries, nil
}

func (j *Journal) load() error {
	file, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue // torn write from a crash
		}
		j.entries = append(j.entries, e)
	}
	return scanner.Err()
}

func (j *Journal) openAppend() error {
	if j.append != nil {
		return nil
	}
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal for append: %w", err)
	}
	j.append = file
	return nil
}

func (j *Journal) write(e Entry) error {
	if err := j.openAppend(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = j.append.Write(data)
	return err
}

func (j *Journal) compact() error {
	tmpPath := j.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create journal file: %w", err)
	}
	w := bufio.NewWriter(file)
	for _, e := range j.entries {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return err
	}
	if j.append != nil {
		_ = j.append.Close()
		j.append = nil
	}
	return j.openAppend()
}

// Record appends one envelope. payload must be the decoded JSON text of the
// envelope, not the compressed frame.
func (j *Journal) Record(dir Direction, tag string, payload []byte) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	e := Entry{
		Seq:     j.seq,
		Time:    time.Now().UTC(),
		Dir:     dir,
		Tag:     tag,
		Payload: append(json.RawMessage(nil), payload...),
	}

	// Compact in batches so a full journal is not rewritten on every frame.
	needsCompact := false
	if len(j.entries) >= j.maxSize {
		drop := len(j.entries) - j.maxSize + 1 + j.maxSize/10
		if drop > len(j.entries) {
			drop = len(j.entries)
		}
		j.entries = j.entries[drop:]
		needsCompact = true
	}
	j.entries = append(j.entries, e)
	if needsCompact {
		return j.compact()
	}
	return j.write(e)
}

// Entries returns a copy of the retained entries, oldest first.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.append == nil {
		return nil
	}
	err := j.append.Close()
	j.append = nil
	return err
}

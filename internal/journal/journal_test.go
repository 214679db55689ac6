package journal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRecordAndReload(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "abc123", 100)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := j.Record(Out, "c", []byte(`{"t":"c","c":{"reset":[]}}`)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Record(In, "e", []byte(`{"t":"e","c":{"text":"x"}}`)); err != nil {
		t.Fatalf("record: %v", err)
	}
	j.Close()

	entries, err := Load(Path(dir, "abc123"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Dir != Out || entries[0].Tag != "c" || entries[0].Seq != 1 {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if string(entries[1].Payload) != `{"t":"e","c":{"text":"x"}}` {
		t.Fatalf("payload = %s", entries[1].Payload)
	}

	// Reopening continues the sequence.
	j, err = Open(dir, "abc123", 100)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	j.Record(In, "t", []byte(`{"t":"t","c":{"stdout":"a"}}`))
	all := j.Entries()
	if all[len(all)-1].Seq != 3 {
		t.Fatalf("expected seq 3, got %d", all[len(all)-1].Seq)
	}
}

func TestRecordCompactsWhenFull(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "room", 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	for i := 0; i < 25; i++ {
		if err := j.Record(Out, "t", []byte(`{"t":"t","c":{"stdin":"a"}}`)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if j.Len() > 10 {
		t.Fatalf("journal exceeded max size: %d", j.Len())
	}
	entries := j.Entries()
	if entries[len(entries)-1].Seq != 25 {
		t.Fatalf("newest entry should be kept, got seq %d", entries[len(entries)-1].Seq)
	}

	onDisk, err := Load(Path(dir, "room"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(onDisk) != len(entries) {
		t.Fatalf("disk has %d entries, memory has %d", len(onDisk), len(entries))
	}
}

func TestLoadSkipsTornLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "j.jsonl")
	content := `{"seq":1,"ts":"2024-01-01T00:00:00Z","dir":"in","tag":"e","payload":{}}` + "\n" + `{"seq":2,"ts":` + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	entries, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}

func TestPathSanitizesRoomKey(t *testing.T) {
	got := Path("/var/lib/padclient", "../etc/passwd")
	if filepath.Dir(got) != "/var/lib/padclient" {
		t.Fatalf("room key escaped state dir: %s", got)
	}
}

func TestNilJournal(t *testing.T) {
	var j *Journal
	if err := j.Record(In, "e", nil); err != nil {
		t.Fatalf("nil record: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

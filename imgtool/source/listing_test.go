package source

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestListingParsesAndReadsFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "payload.bin"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewListing(dir)
	lines := []string{
		"# a comment",
		"",
		"dir /etc 0755 0 0",
		"file /etc/motd 0644 0 0 payload.bin",
		"nod /dev/null 0666 0 0 c 1 3",
		`slink /etc/alias 0777 0 0 "motd"`,
	}
	for _, line := range lines {
		if err := l.AddLine(line); err != nil {
			t.Fatalf("AddLine(%q): %v", line, err)
		}
	}

	var got []Record
	for {
		rec, r, err := l.GetNextRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("GetNextRecord: %v", err)
		}
		if r != nil {
			data, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("reading %s: %v", rec.FullPath, err)
			}
			if string(data) != "hello" {
				t.Fatalf("%s: read %q, want %q", rec.FullPath, data, "hello")
			}
		}
		got = append(got, *rec)
	}

	if len(got) != 4 {
		t.Fatalf("got %d records, want 4: %+v", len(got), got)
	}
	if got[0].Type != TypeDir || got[0].FullPath != "/etc" {
		t.Fatalf("record 0 = %+v", got[0])
	}
	if got[1].Type != TypeFile || got[1].FullPath != "/etc/motd" {
		t.Fatalf("record 1 = %+v", got[1])
	}
	if got[2].Type != TypeCharDev || got[2].DevNo != packDevNo(1, 3) {
		t.Fatalf("record 2 = %+v", got[2])
	}
	if got[3].Type != TypeSymlink || got[3].LinkTarget != "motd" {
		t.Fatalf("record 3 = %+v", got[3])
	}
}

func TestListingRejectsBadLines(t *testing.T) {
	l := NewListing(t.TempDir())
	cases := []string{
		"bogus /foo 0644 0 0",
		"dir /foo notoctal 0 0",
		"slink /foo 0777 0 0",
	}
	for _, line := range cases {
		if err := l.AddLine(line); err == nil {
			t.Fatalf("AddLine(%q) should have failed", line)
		}
	}
}

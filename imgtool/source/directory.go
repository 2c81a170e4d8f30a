package source

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	times "gopkg.in/djherbis/times.v1"
)

// Directory walks an on-disk directory tree depth-first, yielding one
// record per entry (including directories themselves), matching
// file_source_directory_create/get_next_record. Entries within a
// directory are walked in name order (os.ReadDir already sorts them),
// a deterministic divergence from the original's raw readdir() order.
type Directory struct {
	entries []dirEntry
	pos     int
}

type dirEntry struct {
	rec     Record
	osPath  string // empty for directories, which carry no stream
}

// NewDirectory builds a Directory source rooted at path. The whole tree
// is enumerated up front (stat calls only, no file content is read
// yet), unlike the original's lazy readdir() stack, since Go's
// filepath walk helpers make that the natural shape; file content is
// still only opened lazily, in GetNextRecord.
func NewDirectory(path string) (*Directory, error) {
	d := &Directory{}
	if err := d.walk(path, ""); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Directory) walk(osPath, virtualPath string) error {
	ents, err := os.ReadDir(osPath)
	if err != nil {
		return fmt.Errorf("source: directory: reading %q: %w", osPath, err)
	}
	sort.Slice(ents, func(i, j int) bool { return ents[i].Name() < ents[j].Name() })

	for _, e := range ents {
		childOS := filepath.Join(osPath, e.Name())
		childVirtual := virtualPath + "/" + e.Name()

		info, err := os.Lstat(childOS)
		if err != nil {
			return fmt.Errorf("source: directory: stat %q: %w", childOS, err)
		}

		rec, err := recordFromFileInfo(childVirtual, childOS, info)
		if err != nil {
			return err
		}

		entry := dirEntry{rec: rec}
		if rec.Type == TypeFile {
			entry.osPath = childOS
		}
		d.entries = append(d.entries, entry)

		if rec.Type == TypeDir {
			if err := d.walk(childOS, childVirtual); err != nil {
				return err
			}
		}
	}
	return nil
}

func recordFromFileInfo(virtualPath, osPath string, info fs.FileInfo) (Record, error) {
	rec := Record{
		FullPath:    virtualPath,
		Permissions: uint16(info.Mode().Perm()),
	}

	if ts, err := times.Stat(osPath); err == nil {
		rec.Mtime = uint64(ts.ModTime().Unix())
		if ts.HasChangeTime() {
			rec.Ctime = uint64(ts.ChangeTime().Unix())
		} else {
			rec.Ctime = rec.Mtime
		}
	} else {
		rec.Mtime = uint64(info.ModTime().Unix())
		rec.Ctime = rec.Mtime
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(osPath)
		if err != nil {
			return Record{}, fmt.Errorf("source: directory: reading symlink %q: %w", osPath, err)
		}
		rec.Type = TypeSymlink
		rec.LinkTarget = target
	case info.IsDir():
		rec.Type = TypeDir
	case info.Mode()&os.ModeNamedPipe != 0:
		rec.Type = TypeFifo
	case info.Mode()&os.ModeSocket != 0:
		rec.Type = TypeSocket
	case info.Mode()&os.ModeDevice != 0:
		if info.Mode()&os.ModeCharDevice != 0 {
			rec.Type = TypeCharDev
		} else {
			rec.Type = TypeBlockDev
		}
		rec.DevNo = deviceNumber(info)
	default:
		rec.Type = TypeFile
		rec.Size = uint64(info.Size())
	}

	return rec, nil
}

// GetNextRecord returns the next entry, opening its content lazily for
// regular files.
func (d *Directory) GetNextRecord() (*Record, io.Reader, error) {
	if d.pos >= len(d.entries) {
		return nil, nil, io.EOF
	}
	e := d.entries[d.pos]
	d.pos++

	rec := e.rec
	if rec.Type != TypeFile {
		return &rec, nil, nil
	}

	f, err := os.Open(e.osPath)
	if err != nil {
		return nil, nil, fmt.Errorf("source: directory: opening %q: %w", e.osPath, err)
	}
	return &rec, &closingReader{f: f}, nil
}

// closingReader closes the backing *os.File once fully drained, since
// Source implementations aren't given an explicit close hook.
type closingReader struct {
	f *os.File
}

func (c *closingReader) Read(p []byte) (int, error) {
	n, err := c.f.Read(p)
	if err == io.EOF {
		c.f.Close()
	}
	return n, err
}

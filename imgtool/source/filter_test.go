package source

import (
	"io"
	"testing"
)

type sliceSource struct {
	recs []Record
	pos  int
}

func (s *sliceSource) GetNextRecord() (*Record, io.Reader, error) {
	if s.pos >= len(s.recs) {
		return nil, nil, io.EOF
	}
	r := s.recs[s.pos]
	s.pos++
	return &r, nil, nil
}

func TestFilterFirstMatchWinsDefaultDeny(t *testing.T) {
	inner := &sliceSource{recs: []Record{
		{FullPath: "/usr/bin/ls"},
		{FullPath: "/usr/share/doc/readme"},
		{FullPath: "/etc/passwd"},
	}}

	f := NewFilter(inner)
	f.AddGlobRule("/usr/share/*", FilterDiscard)
	f.AddGlobRule("/usr/*", FilterAllow)

	var got []string
	for {
		rec, _, err := f.GetNextRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("GetNextRecord: %v", err)
		}
		got = append(got, rec.FullPath)
	}

	want := []string{"/usr/bin/ls"}
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("got %v, want %v (share doc should be discarded by the earlier rule, passwd has no matching rule at all)", got, want)
	}
}

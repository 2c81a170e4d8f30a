package source

import (
	"io"
	"testing"
)

func TestAggregateChainsSources(t *testing.T) {
	a := &sliceSource{recs: []Record{{FullPath: "/a1"}, {FullPath: "/a2"}}}
	b := &sliceSource{recs: []Record{{FullPath: "/b1"}}}

	agg := NewAggregate()
	agg.Add(a)
	agg.Add(b)

	var got []string
	for {
		rec, _, err := agg.GetNextRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("GetNextRecord: %v", err)
		}
		got = append(got, rec.FullPath)
	}

	want := []string{"/a1", "/a2", "/b1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestAggregateResetRewindsIndexOnly(t *testing.T) {
	a := &sliceSource{recs: []Record{{FullPath: "/a1"}}}
	agg := NewAggregate()
	agg.Add(a)

	if _, _, err := agg.GetNextRecord(); err != nil {
		t.Fatalf("GetNextRecord: %v", err)
	}
	if _, _, err := agg.GetNextRecord(); err != io.EOF {
		t.Fatalf("expected EOF once the single source is drained, got %v", err)
	}

	agg.Reset()
	if _, _, err := agg.GetNextRecord(); err != io.EOF {
		t.Fatalf("Reset rewinds the source index, not the already-drained sub-source, so this should still be EOF, got %v", err)
	}
}

package source

import "io"

// Aggregate chains several sources end to end, yielding every record
// of the first, then the second, and so on. Grounded on
// original_source/lib/imgtool/filesource/aggregate.c.
type Aggregate struct {
	sources []Source
	idx     int
}

// NewAggregate creates an empty Aggregate; use Add to append sources.
func NewAggregate() *Aggregate { return &Aggregate{} }

// Add appends sub to the chain, matching file_source_aggregate_add.
func (a *Aggregate) Add(sub Source) { a.sources = append(a.sources, sub) }

// Reset rewinds iteration to the first sub-source, matching
// file_source_aggregate_reset. The sub-sources themselves are not
// rewound -- they are whatever state Add left them in.
func (a *Aggregate) Reset() { a.idx = 0 }

func (a *Aggregate) GetNextRecord() (*Record, io.Reader, error) {
	for a.idx < len(a.sources) {
		rec, r, err := a.sources[a.idx].GetNextRecord()
		if err == io.EOF {
			a.idx++
			continue
		}
		return rec, r, err
	}
	return nil, nil, io.EOF
}

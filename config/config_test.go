package config

import "testing"

type testRoot struct {
	names []string
}

func testKeywords() []Keyword {
	return []Keyword{
		{
			Name: "widget",
			Arg:  ArgString,
			Handle: func(_ *File, parent interface{}, name string) (interface{}, error) {
				r := parent.(*testRoot)
				r.names = append(r.names, name)
				return r, nil
			},
			Children: []Keyword{
				{
					Name: "size",
					Arg:  ArgSize,
					Handle: func(_ *File, parent interface{}, raw string) (interface{}, error) {
						r := parent.(*testRoot)
						n, err := ParseSize(raw)
						if err != nil {
							return nil, err
						}
						r.names = append(r.names, raw+"="+itoa(n))
						return r, nil
					},
				},
			},
		},
	}
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestParseFileNestedBlocks(t *testing.T) {
	content := `
# a comment line
widget "root" {
	size 64M
}
`
	root := &testRoot{}
	file := NewFile("test.cfg", content)
	if err := ParseFile(file, testKeywords(), root); err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	want := []string{"root", "64M=67108864"}
	if len(root.names) != len(want) {
		t.Fatalf("got %v, want %v", root.names, want)
	}
	for i := range want {
		if root.names[i] != want[i] {
			t.Fatalf("got %v, want %v", root.names, want)
		}
	}
}

func TestParseFileRejectsUnknownKeyword(t *testing.T) {
	file := NewFile("test.cfg", "bogus { }\n")
	if err := ParseFile(file, testKeywords(), &testRoot{}); err == nil {
		t.Fatalf("expected an error for an unknown keyword")
	}
}

func TestParseFileRejectsUnclosedBlock(t *testing.T) {
	file := NewFile("test.cfg", "widget \"root\" {\n")
	if err := ParseFile(file, testKeywords(), &testRoot{}); err == nil {
		t.Fatalf("expected an error for a missing '}'")
	}
}

func TestParseSizeSuffixes(t *testing.T) {
	cases := map[string]uint64{
		"0":   0,
		"512": 512,
		"1K":  1024,
		"2M":  2 * 1024 * 1024,
		"1G":  1024 * 1024 * 1024,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		if err != nil {
			t.Fatalf("ParseSize(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseSize(%q) = %d, want %d", in, got, want)
		}
	}
	if _, err := ParseSize("nope"); err == nil {
		t.Fatalf("expected an error for a non-numeric size")
	}
}

package fat32

import (
	"fmt"
	"strings"
)

// shortnameResult mirrors FAT_SHORTNAME: whether the generated name
// needed any conversion, and whether generation failed outright.
type shortnameResult int

const (
	shortnameError shortnameResult = iota - 1
	shortnameOK
	shortnameSame
	shortnameSuffixed
)

const illegalChars = "\"*+,./:;<=>?[\\]|"

func isIllegalChar(c byte) bool {
	return c <= 0x20 || c == 0x7F || strings.IndexByte(illegalChars, c) >= 0
}

// appendGeneration overwrites the tail of shortname with a "~N" suffix,
// making room by trimming trailing spaces in the base name first.
// Grounded on conv.c's append_generation.
func appendGeneration(shortname []byte, gen uint) shortnameResult {
	if gen > 999999 {
		return shortnameError
	}

	i := 7
	for i > 0 && shortname[i] == ' ' {
		i--
	}

	gentext := fmt.Sprintf("~%d", gen)
	if len(gentext) > 8-i {
		i = 8 - len(gentext)
	}
	copy(shortname[i:], gentext)
	return shortnameSuffixed
}

// convert upper-cases and strips illegal characters from name into out,
// flagging the result as suffixed if anything had to be dropped or
// folded. Grounded on conv.c's convert.
func convert(conv *shortnameResult, name []byte, out []byte) {
	i, j := 0, 0
	for i < len(name) && j < len(out) {
		c := name[i]
		switch {
		case isIllegalChar(c):
			for i < len(name) && isIllegalChar(name[i]) {
				i++
			}
			*conv = shortnameSuffixed
			out[j] = '_'
		case c >= 'a' && c <= 'z':
			if *conv != shortnameSuffixed {
				*conv = shortnameOK
			}
			out[j] = c - ('a' - 'A')
			i++
		default:
			out[j] = c
			i++
		}
		j++
	}
	if i < len(name) {
		*conv = shortnameSuffixed
	}
}

// mkShortname builds an 11-byte (8.3, space padded, no dot) FAT short
// name from name, appending a "~gen" suffix when gen > 1 or the
// conversion needed one anyway. The extension is whatever follows the
// last '.' that has further non-space content after it somewhere
// before the end of the string; trailing dots/spaces are stripped.
// Grounded on conv.c's fatfs_mk_shortname.
func mkShortname(name string, gen uint) ([11]byte, shortnameResult) {
	var shortname [11]byte
	for i := range shortname {
		shortname[i] = ' '
	}

	raw := []byte(name)
	n := len(raw)
	if n == 0 || raw[0] == ' ' || raw[0] == '.' {
		return shortname, shortnameError
	}

	extIdx, extCandidate := -1, -1
	for i := 0; i < n; i++ {
		switch raw[i] {
		case ' ':
		case '.':
			if extCandidate == -1 {
				extCandidate = i + 1
			}
		default:
			if extCandidate != -1 {
				extIdx = extCandidate
			}
			extCandidate = -1
		}
	}

	conv := shortnameSame
	var baseLen int

	if extIdx != -1 {
		extLen := n - extIdx
		if extCandidate != -1 {
			extLen = extCandidate - extIdx
		}
		convert(&conv, raw[extIdx:extIdx+extLen], shortname[8:11])
		baseLen = extIdx - 1
	} else {
		end := n - 1
		for end >= 0 && (raw[end] == ' ' || raw[end] == '.') {
			end--
		}
		baseLen = end + 1
	}

	if baseLen <= 0 {
		shortname[0] = '_'
	} else {
		convert(&conv, raw[:baseLen], shortname[0:8])
	}

	if conv == shortnameSuffixed || gen > 1 {
		conv = appendGeneration(shortname[:], gen)
	}

	return shortname, conv
}

package dlac

import (
	"fmt"
	"strings"
)

// alphabet maps 6-bit DLAC code points to text. Non-printing code points
// (ETX, NC, RS) are mapped to '~' and removed after decoding. Code point
// 28 is the tab marker: the following code point is a space count, not a
// character.
const alphabet = "~ABCDEFGHIJKLMNOPQRSTUVWXYZ~\t~\n| !\"#$%&'()*+,-./0123456789:;<=>?"

// Decode unpacks 6-bit DLAC characters from b. Every 3 bytes hold 4
// characters. When fourBitTab is set, tab space counts are masked to 4
// bits; the FAA test groups encode them that way.
func Decode(b []byte, fourBitTab bool) string {
	var sb strings.Builder
	tab := false

	add := func(c byte) {
		switch {
		case tab:
			n := int(c)
			if fourBitTab {
				n &= 0xF
			}
			for i := 0; i < n; i++ {
				sb.WriteByte(' ')
			}
			tab = false
		case c == 28:
			tab = true
		default:
			sb.WriteByte(alphabet[c])
		}
	}

	for i := 0; i < len(b); i++ {
		switch i % 3 {
		case 0:
			add((b[i] & 0xFC) >> 2)
		case 1:
			add(((b[i-1] & 0x03) << 4) | ((b[i] & 0xF0) >> 4))
		case 2:
			add(((b[i-1] & 0x0F) << 2) | ((b[i] & 0xC0) >> 6))
			add(b[i] & 0x3F)
		}
	}

	return strings.ReplaceAll(sb.String(), "~", "")
}

// Encode packs text into DLAC bytes, padding with the null code point to
// a multiple of 4 characters. Lowercase input is folded to uppercase.
// Used by tests and synthetic frame builders.
func Encode(s string) ([]byte, error) {
	s = strings.ToUpper(s)
	for len(s)%4 != 0 {
		s += "~"
	}

	out := make([]byte, 0, len(s)/4*3)
	for i := 0; i < len(s); i += 4 {
		var c [4]byte
		for j := 0; j < 4; j++ {
			idx := strings.IndexByte(alphabet, s[i+j])
			if idx < 0 {
				return nil, fmt.Errorf("character %q cannot be encoded as DLAC", s[i+j])
			}
			c[j] = byte(idx)
		}
		out = append(out,
			(c[0]<<2)|((c[1]&0x30)>>4),
			((c[1]&0x0F)<<4)|((c[2]&0x3C)>>2),
			((c[2]&0x03)<<6)|c[3])
	}
	return out, nil
}

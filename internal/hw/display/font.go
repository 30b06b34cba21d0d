package display

const segDot uint16 = 0x4000

// font maps characters to 14-segment masks (bit 0 = segment A ... bit 13 = N).
var font = map[rune]uint16{
	' ': 0x0000,
	'-': 0x00C0,
	'_': 0x0008,
	'*': 0x3FC0,
	'+': 0x12C0,
	'/': 0x0C00,
	'0': 0x0C3F,
	'1': 0x0006,
	'2': 0x00DB,
	'3': 0x008F,
	'4': 0x00E6,
	'5': 0x2069,
	'6': 0x00FD,
	'7': 0x0007,
	'8': 0x00FF,
	'9': 0x00EF,
	'A': 0x00F7,
	'B': 0x128F,
	'C': 0x0039,
	'D': 0x120F,
	'E': 0x00F9,
	'F': 0x0071,
	'G': 0x00BD,
	'H': 0x00F6,
	'I': 0x1209,
	'J': 0x001E,
	'K': 0x2470,
	'L': 0x0038,
	'M': 0x0536,
	'N': 0x2136,
	'O': 0x003F,
	'P': 0x00F3,
	'Q': 0x203F,
	'R': 0x20F3,
	'S': 0x018D,
	'T': 0x1201,
	'U': 0x003E,
	'V': 0x0C30,
	'W': 0x2836,
	'X': 0x2D00,
	'Y': 0x1500,
	'Z': 0x0C09,
}

// glyph returns the mask for r; unknown characters render as blank.
func glyph(r rune) uint16 {
	return font[r]
}

package render

var (
	blocksPalette = []rune(" ▁▂▃▄▅▆▇█")
	asciiPalette  = []rune(" .:-=+*#%@")
	dotsPalette   = []rune(" ⡀⣀⣄⣤⣦⣶⣷⣿")
)

// Palette returns the glyphs used for bar heights, from empty to full.
func Palette(name string) []rune {
	switch name {
	case "ascii":
		return asciiPalette
	case "dots":
		return dotsPalette
	default:
		return blocksPalette
	}
}

// PaletteNames returns all palette identifiers.
func PaletteNames() []string {
	return []string{"blocks", "ascii", "dots"}
}

package desktop

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"
)

// variantTheme wraps the default theme and pins the light or dark variant
// regardless of the OS preference.
type variantTheme struct {
	fyne.Theme
	variant fyne.ThemeVariant
}

// newTheme returns the theme for name, or nil to follow the system setting.
func newTheme(name string) fyne.Theme {
	switch name {
	case "dark":
		return &variantTheme{Theme: theme.DefaultTheme(), variant: theme.VariantDark}
	case "light":
		return &variantTheme{Theme: theme.DefaultTheme(), variant: theme.VariantLight}
	default:
		return nil
	}
}

func (t *variantTheme) Color(name fyne.ThemeColorName, _ fyne.ThemeVariant) color.Color {
	return t.Theme.Color(name, t.variant)
}

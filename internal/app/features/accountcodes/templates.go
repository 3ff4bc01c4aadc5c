// internal/app/features/accountcodes/templates.go
package accountcodes

import (
	"embed"

	"github.com/dalemusser/waffle/pantry/templates"
)

//go:embed templates/*.gohtml
var FS embed.FS

func init() {
	templates.Register(templates.Set{
		Name:     "accountcodes",
		FS:       FS,
		Patterns: []string{"templates/*.gohtml"},
	})
}

package gemini

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"text/template"

	"github.com/phrazzld/bulkgen/internal/domain"
)

//go:embed prompts/*.tmpl
var builtinPrompts embed.FS

// LoadTemplates parses one <category>.tmpl per supported category. An empty dir
// selects the built-in templates.
func LoadTemplates(dir string) (map[domain.Category]*template.Template, error) {
	var fsys fs.FS
	if dir == "" {
		sub, err := fs.Sub(builtinPrompts, "prompts")
		if err != nil {
			return nil, err
		}
		fsys = sub
	} else {
		fsys = os.DirFS(dir)
	}

	templates := make(map[domain.Category]*template.Template, len(domain.Categories()))
	for _, category := range domain.Categories() {
		name := string(category) + ".tmpl"
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read prompt template %s: %v", ErrInvalidConfig, name, err)
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse prompt template %s: %v", ErrInvalidConfig, name, err)
		}
		templates[category] = tmpl
	}
	return templates, nil
}

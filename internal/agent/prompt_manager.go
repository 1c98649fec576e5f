package agent

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed prompts/*.md
var defaultPrompts embed.FS

// PromptManager assembles system prompts. Files in Directory override the
// embedded defaults of the same name; extra .md files are appended as
// shared guidance for both engines.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

var engineFiles = map[string]bool{
	"legacy.md": true,
	"hybrid.md": true,
}

func (pm *PromptManager) GetLegacyPrompt() (string, error) {
	return pm.compose("legacy.md")
}

func (pm *PromptManager) GetHybridPrompt() (string, error) {
	return pm.compose("hybrid.md")
}

func (pm *PromptManager) compose(engineFile string) (string, error) {
	files := pm.sources()

	names := make([]string, 0, len(files))
	for name := range files {
		if !engineFiles[name] {
			names = append(names, name)
		}
	}

	// identity first, then the rest alphabetically
	sort.Slice(names, func(i, j int) bool {
		if names[i] == "identity.md" || names[j] == "identity.md" {
			return names[i] == "identity.md"
		}
		return names[i] < names[j]
	})
	names = append(names, engineFile)

	var contents []string
	for _, name := range names {
		data, err := files[name]()
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", name, err)
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			contents = append(contents, s)
		}
	}

	if len(contents) == 0 {
		return "", fmt.Errorf("no prompt files found for %s", engineFile)
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}

// sources maps each prompt file name to a reader, directory files winning.
func (pm *PromptManager) sources() map[string]func() ([]byte, error) {
	files := make(map[string]func() ([]byte, error))

	embedded, _ := fs.Glob(defaultPrompts, "prompts/*.md")
	for _, p := range embedded {
		p := p
		files[path.Base(p)] = func() ([]byte, error) { return defaultPrompts.ReadFile(p) }
	}

	if pm.Directory == "" {
		return files
	}
	entries, err := os.ReadDir(pm.Directory)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: Failed to read prompts directory %s: %v", pm.Directory, err)
		}
		return files
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		full := filepath.Join(pm.Directory, e.Name())
		files[e.Name()] = func() ([]byte, error) { return os.ReadFile(full) }
	}
	return files
}

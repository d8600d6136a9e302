// Package prompt loads versioned prompt documents and renders them into the
// sectioned text sent to the language model.
package prompt

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var builtin embed.FS

// Prompt names shipped with the binary.
const (
	Parser = "parser"
	Report = "report"
)

// Document is one prompt file.
type Document struct {
	Version int    `yaml:"version"`
	System  string `yaml:"system"`
	Task    string `yaml:"task"`
	Rules   string `yaml:"rules"`
	Inputs  string `yaml:"inputs"`
}

// Catalog resolves prompt documents, preferring files in dir over the
// embedded defaults. Loaded documents are cached by name.
type Catalog struct {
	dir   string
	mu    sync.Mutex
	cache map[string]*Document
}

// NewCatalog creates a catalog. An empty dir uses embedded prompts only.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir, cache: make(map[string]*Document)}
}

// Load returns the named document.
func (c *Catalog) Load(name string) (*Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if doc, ok := c.cache[name]; ok {
		return doc, nil
	}

	data, err := c.read(name)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode prompt %s: %w", name, err)
	}
	c.cache[name] = &doc
	return &doc, nil
}

func (c *Catalog) read(name string) ([]byte, error) {
	file := name + ".yaml"
	if c.dir != "" {
		data, err := os.ReadFile(filepath.Join(c.dir, file))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read prompt %s: %w", name, err)
		}
	}
	data, err := builtin.ReadFile("templates/" + file)
	if err != nil {
		return nil, fmt.Errorf("unknown prompt %q", name)
	}
	return data, nil
}

// Render fills {{var}} placeholders in every block of the named document.
func (c *Catalog) Render(name string, vars map[string]string) (Document, error) {
	doc, err := c.Load(name)
	if err != nil {
		return Document{}, err
	}
	r := replacer(vars)
	return Document{
		Version: doc.Version,
		System:  r.Replace(doc.System),
		Task:    r.Replace(doc.Task),
		Rules:   r.Replace(doc.Rules),
		Inputs:  r.Replace(doc.Inputs),
	}, nil
}

// Construct renders the named document into a single prompt with
// [System], [Task], [Rules] and [Inputs] sections. Empty blocks are omitted.
func (c *Catalog) Construct(name string, vars map[string]string) (string, error) {
	doc, err := c.Render(name, vars)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	section := func(title, body string) {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		fmt.Fprintf(&b, "[%s]\n%s\n\n", title, body)
	}
	section("System", doc.System)
	section("Task", doc.Task)
	section("Rules", doc.Rules)
	section("Inputs", doc.Inputs)
	return strings.TrimSpace(b.String()), nil
}

// replacer substitutes every placeholder in one pass, so values that
// themselves contain "{{...}}" are left as written.
func replacer(vars map[string]string) *strings.Replacer {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", vars[k])
	}
	return strings.NewReplacer(pairs...)
}

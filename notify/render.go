package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"path/filepath"
	"sync"

	"github.com/MrEthical07/goVerify/eventmail"
)

// Renderer loads templates from a directory and caches them by path.
type Renderer struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*template.Template
}

func NewRenderer(dir string) *Renderer {
	return &Renderer{dir: dir, cache: make(map[string]*template.Template)}
}

// Render executes the job's template with the job as data.
func (r *Renderer) Render(job eventmail.Job) (string, error) {
	tpl, err := r.load(job.Template)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, job); err != nil {
		return "", fmt.Errorf("render %s: %w", job.Template, err)
	}
	return buf.String(), nil
}

func (r *Renderer) load(name string) (*template.Template, error) {
	r.mu.RLock()
	tpl, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	clean := filepath.Clean("/" + name)
	tpl, err := template.ParseFiles(filepath.Join(r.dir, clean))
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", name, err)
	}

	r.mu.Lock()
	r.cache[name] = tpl
	r.mu.Unlock()
	return tpl, nil
}

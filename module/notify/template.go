package notify

import (
	"strings"
	"sync"
)

// Template is the per-(app,event) notification shape. Title/Body may carry
// {{placeholder}} slots filled from the dispatch data.
type Template struct {
	App            string
	EventKey       string
	Title          string
	Body           string
	Priority       string // high | normal
	DefaultEnabled bool
}

type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func tplKey(app, eventKey string) string { return app + "|" + eventKey }

func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]Template)}
}

// NewDefaultRegistry seeds the events the chat pipeline emits.
func NewDefaultRegistry(app string) *Registry {
	r := NewRegistry()
	r.Register(Template{
		App:            app,
		EventKey:       "message.new",
		Title:          "New message",
		Body:           "{{preview}}",
		Priority:       "high",
		DefaultEnabled: true,
	})
	return r
}

func (r *Registry) Register(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tplKey(t.App, t.EventKey)] = t
}

func (r *Registry) Get(app, eventKey string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[tplKey(app, eventKey)]
	return t, ok
}

// Compile substitutes data into the placeholders and returns title, body and
// the payload forwarded to the client in the push data section.
func (t Template) Compile(data map[string]string) (string, string, map[string]string) {
	title := substitute(t.Title, data)
	body := substitute(t.Body, data)
	payload := make(map[string]string, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["event"] = t.EventKey
	return title, body, payload
}

func substitute(s string, data map[string]string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	out := s
	for k, v := range data {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

// Package lang lists the languages a pad can run and tracks which one is
// selected for a session.
package lang

import (
	"sort"
	"sync"
)

// Language describes one runnable language. ID is what the server knows it
// by; EditorLanguage picks syntax highlighting.
type Language struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	EditorLanguage string `json:"editor_language" yaml:"editor_language"`
}

var builtin = []Language{
	{"bash", "Bash", "shell"},
	{"c", "C", "c"},
	{"csharp", "CSharp", "csharp"},
	{"cpp", "Cpp", "cpp"},
	{"clojure", "Clojure", "clojure"},
	{"coffeescript", "CoffeeScript", "coffeescript"},
	{"crystal", "Crystal", "ruby"},
	{"elixir", "Elixir", "elixir"},
	{"erlang", "Erlang", "erlang"},
	{"fsharp", "FSharp", "fsharp"},
	{"go", "Go", "go"},
	{"haskell", "Haskell", "haskell"},
	{"java", "Java", "java"},
	{"javascript", "JavaScript", "javascript"},
	{"kotlin", "Kotlin", "kotlin"},
	{"markdown", "Markdown", "markdown"},
	{"mysql", "MySQL", "mysql"},
	{"ocaml", "OCaml", "ocaml"},
	{"objc", "Objective-C", "objective-c"},
	{"php", "PHP", "php"},
	{"perl", "Perl", "perl"},
	{"perl6", "Perl 6", "perl"},
	{"plaintext", "Plain Text", "plaintext"},
	{"postgres", "PostgreSQL", "sql"},
	{"python2", "Python 2", "python"},
	{"python3", "Python 3", "python"},
	{"r", "R", "r"},
	{"ruby", "Ruby", "ruby"},
	{"rust", "Rust", "rust"},
	{"scala", "Scala", "scala"},
	{"swift", "Swift 5", "swift"},
	{"typescript", "Typescript", "typescript"},
	{"vb", "Visual Basic", "vb"},
}

// Registry is an immutable lookup table of languages.
type Registry struct {
	list []Language
	byID map[string]Language
}

// Default returns the registry of built-in languages.
func Default() *Registry {
	return NewRegistry(builtin)
}

// NewRegistry builds a registry from langs. Later duplicates replace earlier
// ones; order of first appearance is kept.
func NewRegistry(langs []Language) *Registry {
	r := &Registry{byID: make(map[string]Language, len(langs))}
	for _, l := range langs {
		if _, seen := r.byID[l.ID]; !seen {
			r.list = append(r.list, l)
		} else {
			for i := range r.list {
				if r.list[i].ID == l.ID {
					r.list[i] = l
				}
			}
		}
		r.byID[l.ID] = l
	}
	return r
}

func (r *Registry) Lookup(id string) (Language, bool) {
	l, ok := r.byID[id]
	return l, ok
}

// All returns the languages in registration order.
func (r *Registry) All() []Language {
	return append([]Language(nil), r.list...)
}

// IDs returns the language ids sorted alphabetically.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.list))
	for _, l := range r.list {
		ids = append(ids, l.ID)
	}
	sort.Strings(ids)
	return ids
}

// Selection is the language currently selected for a session.
type Selection struct {
	mu        sync.Mutex
	current   Language
	set       bool
	observers []func(Language)
}

func (s *Selection) Current() (Language, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.set
}

// Set selects l and notifies observers if it changed.
func (s *Selection) Set(l Language) {
	s.mu.Lock()
	if s.set && s.current == l {
		s.mu.Unlock()
		return
	}
	s.current, s.set = l, true
	observers := append(([]func(Language))(nil), s.observers...)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(l)
	}
}

// OnChange registers fn to run after every change of selection.
func (s *Selection) OnChange(fn func(Language)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

package marketplace

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/maltedev/price-tracker/internal/parser"
)

var (
	ErrUnknownMarketplace = errors.New("unknown marketplace")
	ErrNoArticle          = errors.New("no article id in input")
)

var digitRun = regexp.MustCompile(`\d+`)

// Marketplace describes how to find and read one shop's listing pages.
type Marketplace struct {
	Name  string
	Hosts []string

	// Article extracts the article id from user input. Nil means the first
	// contiguous digit run.
	Article func(input string) string

	// ListingURL builds the canonical product page for an article id.
	ListingURL func(article string) string

	Fields parser.FieldSet
}

// ParseArticle returns the article id contained in input, or ErrNoArticle.
func (m *Marketplace) ParseArticle(input string) (string, error) {
	parse := m.Article
	if parse == nil {
		parse = FirstDigitRun
	}
	if id := parse(input); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: %q", ErrNoArticle, input)
}

func (m *Marketplace) servesHost(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, h := range m.Hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// FirstDigitRun returns the first run of ASCII digits in s.
func FirstDigitRun(s string) string {
	return digitRun.FindString(s)
}

// Registry resolves marketplaces by name or by the host of a listing URL.
type Registry struct {
	mu          sync.RWMutex
	byName      map[string]*Marketplace
	defaultName string
}

func NewRegistry(defaultName string) *Registry {
	return &Registry{
		byName:      make(map[string]*Marketplace),
		defaultName: defaultName,
	}
}

// Default returns a registry with every built-in marketplace, Wildberries
// being the default for bare article numbers.
func Default() *Registry {
	r := NewRegistry(WildberriesName)
	r.Register(Wildberries())
	r.Register(Ozon())
	return r
}

func (r *Registry) Register(m *Marketplace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[m.Name] = m
}

// Lookup returns the marketplace registered under name. An empty name is
// the default marketplace.
func (r *Registry) Lookup(name string) (*Marketplace, error) {
	if name == "" {
		name = r.defaultName
	}
	r.mu.RLock()
	m, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, r.unknown(name)
	}
	return m, nil
}

// Resolve picks the marketplace serving the host in input. Input without a
// host (a bare article) goes to the default marketplace.
func (r *Registry) Resolve(input string) (*Marketplace, error) {
	host := hostOf(input)
	if host == "" {
		return r.Lookup("")
	}

	r.mu.RLock()
	for _, m := range r.byName {
		if m.servesHost(host) {
			r.mu.RUnlock()
			return m, nil
		}
	}
	r.mu.RUnlock()
	return nil, r.unknown("host " + host)
}

func (r *Registry) unknown(what string) error {
	return fmt.Errorf("%w: %s (supported: %s)", ErrUnknownMarketplace, what, strings.Join(r.Names(), ", "))
}

// Names lists registered marketplaces in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func hostOf(input string) string {
	s := strings.TrimSpace(input)
	if !strings.Contains(s, "://") {
		if !strings.Contains(s, "/") || !strings.Contains(strings.SplitN(s, "/", 2)[0], ".") {
			return ""
		}
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

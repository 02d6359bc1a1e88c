// Package filter derives the filtered planning views from the loaded
// collaborators and availability records.
package filter

import (
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/example/staffplan/internal/availability"
)

const (
	// SlowPass is the duration above which a filter pass is logged.
	SlowPass = 10 * time.Millisecond

	// minPhoneDigits is the shortest digit query matched against phones.
	minPhoneDigits = 3

	defaultCacheSize = 4096
)

// State is the user-selected filter. Dates are inclusive YYYY-MM-DD bounds.
type State struct {
	Search   string `json:"search"`
	Metier   string `json:"metier"`
	Lieu     string `json:"lieu"`
	Statut   string `json:"statut"`
	DateFrom string `json:"dateFrom"`
	DateTo   string `json:"dateTo"`
}

// HasDateRange reports whether either date bound is set. Place and status
// criteria only apply when it is.
func (s State) HasDateRange() bool {
	return strings.TrimSpace(s.DateFrom) != "" || strings.TrimSpace(s.DateTo) != ""
}

// Pipeline applies a State to collaborators and records. It holds no filter
// state of its own and is safe for concurrent use.
type Pipeline struct {
	folded  *lru.Cache[string, string]
	logger  *slog.Logger
	observe func(pass string, elapsed time.Duration)
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithObserver receives the duration of every pass.
func WithObserver(fn func(pass string, elapsed time.Duration)) Option {
	return func(p *Pipeline) { p.observe = fn }
}

// New builds a pipeline.
func New(logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, string](defaultCacheSize)
	if err != nil {
		panic(err)
	}
	p := &Pipeline{folded: cache, logger: logger.With("component", "filter")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Collaborators applies the search and metier criteria.
func (p *Pipeline) Collaborators(state State, list []availability.Collaborator) []availability.Collaborator {
	defer p.track("collaborators", time.Now(), len(list))

	search := p.fold(state.Search)
	digits := availability.Digits(state.Search)
	if isNumeric(state.Search) && len(digits) < minPhoneDigits {
		search = ""
	}
	metier := strings.TrimSpace(state.Metier)

	out := make([]availability.Collaborator, 0, len(list))
	for _, c := range list {
		if search != "" && !p.matchesSearch(c, search, digits) {
			continue
		}
		if metier != "" && !strings.EqualFold(strings.TrimSpace(c.Metier), metier) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (p *Pipeline) matchesSearch(c availability.Collaborator, search, digits string) bool {
	if strings.Contains(p.fold(c.Prenom+" "+c.Nom), search) || strings.Contains(p.fold(c.Nom+" "+c.Prenom), search) {
		return true
	}
	if c.Email != "" && strings.Contains(availability.NormalizeEmail(c.Email), strings.ToLower(search)) {
		return true
	}
	if len(digits) >= minPhoneDigits && strings.Contains(availability.Digits(c.Phone), digits) {
		return true
	}
	return false
}

// Availabilities keeps the records linked to a collaborator of filtered, then
// applies the date bounds and, when a date range is set, place and status.
// Records whose kind cannot be derived are dropped.
func (p *Pipeline) Availabilities(state State, list []availability.Dispo, filtered []availability.Collaborator) []availability.Dispo {
	defer p.track("availabilities", time.Now(), len(list))

	linker := availability.NewLinker(filtered)
	from, to := strings.TrimSpace(state.DateFrom), strings.TrimSpace(state.DateTo)
	gated := state.HasDateRange()

	lieu := availability.CanonicalPlace(state.Lieu)
	statut := strings.TrimSpace(state.Statut)
	wantKind, knownStatus := availability.CanonicalStatus(statut)

	out := make([]availability.Dispo, 0, len(list))
	for _, record := range list {
		resolved, err := availability.Normalize(record)
		if err != nil {
			p.logger.Debug("excluding malformed record", "record_id", record.ID, "error", err)
			continue
		}
		if _, ok := linker.Resolve(resolved); !ok {
			continue
		}
		if from != "" && resolved.Date < from {
			continue
		}
		if to != "" && resolved.Date > to {
			continue
		}
		if gated && lieu != "" {
			place := availability.CanonicalPlace(resolved.Lieu)
			if place != lieu && !strings.Contains(place, lieu) {
				continue
			}
		}
		if gated && statut != "" {
			if knownStatus {
				if recordKind, _ := availability.CanonicalStatus(string(resolved.Kind)); recordKind != wantKind {
					continue
				}
			} else if p.fold(string(resolved.Kind)) != p.fold(statut) {
				continue
			}
		}
		out = append(out, resolved)
	}
	return out
}

func (p *Pipeline) fold(s string) string {
	if s == "" {
		return ""
	}
	if folded, ok := p.folded.Get(s); ok {
		return folded
	}
	folded := availability.Fold(s)
	p.folded.Add(s, folded)
	return folded
}

func (p *Pipeline) track(pass string, started time.Time, size int) {
	elapsed := time.Since(started)
	if p.observe != nil {
		p.observe(pass, elapsed)
	}
	if elapsed > SlowPass {
		p.logger.Warn("slow filter pass", "pass", pass, "records", size, "duration_ms", elapsed.Milliseconds())
	}
}

// isNumeric reports whether q holds digits and only phone punctuation.
func isNumeric(q string) bool {
	hasDigit := false
	for _, r := range q {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == ' ' || r == '+' || r == '-' || r == '.' || r == '(' || r == ')' || r == '/':
		default:
			return false
		}
	}
	return hasDigit
}

package fader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/alucardeht/code-fader/internal/types"
)

// SelectionKind says what caused a selection change. Values follow the
// editor host's numbering.
type SelectionKind int

const (
	KindKeyboard SelectionKind = iota + 1
	KindMouse
	KindCommand
)

func (k SelectionKind) String() string {
	switch k {
	case KindKeyboard:
		return "keyboard"
	case KindMouse:
		return "mouse"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

func ParseSelectionKind(s string) (SelectionKind, error) {
	switch s {
	case "keyboard":
		return KindKeyboard, nil
	case "mouse":
		return KindMouse, nil
	case "command":
		return KindCommand, nil
	default:
		return 0, fmt.Errorf("unknown selection kind %q", s)
	}
}

type Settings struct {
	Enabled    bool
	AutoUnfold bool
	Exclude    []string
}

const UnfoldDirectionUp = "up"

type UnfoldRequest struct {
	Lines     types.LineInterval
	Direction string
	Levels    int
}

// Presenter renders results in the host. Calls are fire-and-forget; errors
// are logged and otherwise ignored.
type Presenter interface {
	ApplyFade(ctx context.Context, doc Document, ranges []types.Range) error
	Unfold(ctx context.Context, doc Document, req UnfoldRequest) error
}

type SelectionChangeEvent struct {
	Doc        Document
	Selections []types.Range
	Kind       SelectionKind
}

func (e SelectionChangeEvent) primary() (types.Range, bool) {
	if len(e.Selections) == 0 {
		return types.Range{}, false
	}
	return e.Selections[0], true
}

// Coordinator reacts to selection changes. Each accepted event mints a new
// version; a result is applied only while its version is still the latest,
// so a slow resolution never overwrites a newer one.
type Coordinator struct {
	resolver  *Resolver
	presenter Presenter
	settings  func() Settings

	version atomic.Uint64
	applyMu sync.Mutex
}

func NewCoordinator(resolver *Resolver, presenter Presenter, settings func() Settings) *Coordinator {
	return &Coordinator{
		resolver:  resolver,
		presenter: presenter,
		settings:  settings,
	}
}

// Pending is a mouse selection that passed the synchronous checks and
// holds the version it was issued.
type Pending struct {
	version    uint64
	ev         SelectionChangeEvent
	sel        types.Range
	autoUnfold bool
}

// HandleSelectionChange runs one full cycle for ev and returns once the
// result has been applied or discarded.
func (c *Coordinator) HandleSelectionChange(ctx context.Context, ev SelectionChangeEvent) {
	if p, ok := c.Begin(ctx, ev); ok {
		c.Finish(ctx, p)
	}
}

// Begin performs the checks that must follow arrival order: settings,
// selection kind, classification, clearing and version issue. ok is false
// when there is nothing left to resolve. Callers that process events
// concurrently must call Begin in arrival order and may run Finish in any
// goroutine.
func (c *Coordinator) Begin(ctx context.Context, ev SelectionChangeEvent) (p Pending, ok bool) {
	s := c.settings()
	sel, hasSel := ev.primary()

	if !s.Enabled {
		c.clear(ctx, ev.Doc)
		return Pending{}, false
	}

	if ev.Kind != KindMouse {
		if len(ev.Selections) == 1 && sel.IsEmpty() {
			c.clear(ctx, ev.Doc)
		}
		return Pending{}, false
	}

	if !hasSel || c.excluded(ev.Doc, s.Exclude) || !IsIdentifierSelection(sel, ev.Doc) {
		c.clear(ctx, ev.Doc)
		return Pending{}, false
	}

	return Pending{
		version:    c.version.Add(1),
		ev:         ev,
		sel:        sel,
		autoUnfold: s.AutoUnfold,
	}, true
}

// Finish resolves p and applies the result unless a newer request was issued
// in the meantime.
func (c *Coordinator) Finish(ctx context.Context, p Pending) {
	doc := p.ev.Doc
	res := c.resolver.Resolve(ctx, doc, p.sel)

	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	if c.version.Load() != p.version {
		log.Debug("discarding stale result", "doc", doc.ID(), "version", p.version)
		return
	}

	if err := c.presenter.ApplyFade(ctx, doc, res.FadeRanges); err != nil {
		log.Warn("apply fade failed", "doc", doc.ID(), "error", err)
	}

	if !p.autoUnfold {
		return
	}
	for _, lines := range res.KeptLines {
		req := UnfoldRequest{Lines: lines, Direction: UnfoldDirectionUp, Levels: 1}
		if err := c.presenter.Unfold(ctx, doc, req); err != nil {
			log.Warn("unfold failed", "doc", doc.ID(), "lines", lines.String(), "error", err)
		}
	}
}

// Version returns the number of the most recent request.
func (c *Coordinator) Version() uint64 {
	return c.version.Load()
}

// clear removes decorations. It also supersedes any in-flight resolution so
// a late result cannot reappear after the user cleared the selection.
func (c *Coordinator) clear(ctx context.Context, doc Document) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.version.Add(1)
	if err := c.presenter.ApplyFade(ctx, doc, nil); err != nil {
		log.Warn("clear fade failed", "doc", doc.ID(), "error", err)
	}
}

func (c *Coordinator) excluded(doc Document, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	name := doc.ID()
	if p, ok := doc.(interface{ Path() string }); ok && p.Path() != "" {
		name = p.Path()
	}
	for _, pattern := range patterns {
		if matched, _ := doublestar.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

package lsp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/alucardeht/code-fader/internal/logger"
	"github.com/alucardeht/code-fader/internal/types"
)

var (
	ErrLanguageNotSupported = errors.New("language not supported")
	ErrManagerClosed        = errors.New("manager is closed")

	log = logger.ForComponent("lsp")
)

// Manager runs at most one server per language and routes document
// requests to it.
type Manager struct {
	config    ManagerConfig
	processes map[Language]*Process
	starting  map[Language]chan struct{}
	circuits  map[Language]*CircuitBreaker

	idleTimers map[Language]*time.Timer
	lastAccess map[Language]time.Time

	mu       sync.RWMutex
	closed   bool
	closedCh chan struct{}
}

func NewManager(config ManagerConfig) *Manager {
	return &Manager{
		config:     config,
		processes:  make(map[Language]*Process),
		starting:   make(map[Language]chan struct{}),
		circuits:   make(map[Language]*CircuitBreaker),
		idleTimers: make(map[Language]*time.Timer),
		lastAccess: make(map[Language]time.Time),
		closedCh:   make(chan struct{}),
	}
}

// Symbols returns the symbol tree for doc, opening or syncing it on the
// server first.
func (m *Manager) Symbols(ctx context.Context, doc Document) ([]types.SymbolOccurrence, error) {
	var symbols []protocol.DocumentSymbol
	err := m.withClient(ctx, doc, func(client *Client) error {
		var err error
		symbols, err = client.DocumentSymbols(ctx, doc.URI())
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Debug("LSP returned symbols", "uri", doc.URI(), "count", len(symbols))
	return ConvertSymbols(symbols), nil
}

// Highlights returns the occurrences of the identifier at pos.
func (m *Manager) Highlights(ctx context.Context, doc Document, pos types.Position) ([]types.Highlight, error) {
	var highlights []protocol.DocumentHighlight
	err := m.withClient(ctx, doc, func(client *Client) error {
		var err error
		highlights, err = client.DocumentHighlights(ctx, doc.URI(), ToProtocolPosition(pos))
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Debug("LSP returned highlights", "uri", doc.URI(), "count", len(highlights))
	return ConvertHighlights(highlights), nil
}

// CloseDocument tells whichever server has doc open that it is gone.
func (m *Manager) CloseDocument(ctx context.Context, u uri.URI) {
	m.mu.RLock()
	procs := make([]*Process, 0, len(m.processes))
	for _, p := range m.processes {
		procs = append(procs, p)
	}
	m.mu.RUnlock()

	for _, p := range procs {
		if client := p.Client(); client != nil {
			if err := client.DidClose(ctx, u); err != nil {
				log.Debug("didClose failed", "uri", u, "error", err)
			}
		}
	}
}

func (m *Manager) withClient(ctx context.Context, doc Document, fn func(*Client) error) error {
	if m.isClosed() {
		return ErrManagerClosed
	}

	lang := m.LanguageFor(doc)
	if lang == "" {
		return fmt.Errorf("%w: %s", ErrLanguageNotSupported, doc.LanguageID())
	}

	return m.circuitFor(lang).Do(func() error {
		client, err := m.clientFor(ctx, lang, doc)
		if err != nil {
			return err
		}
		return m.run(ctx, client, doc, fn)
	})
}

func (m *Manager) run(ctx context.Context, client *Client, doc Document, fn func(*Client) error) error {
	if err := client.Sync(ctx, doc); err != nil {
		return err
	}
	return fn(client)
}

func (m *Manager) clientFor(ctx context.Context, lang Language, doc Document) (*Client, error) {
	rootPath := m.rootFor(doc, lang)

	process, err := m.getOrStartProcess(ctx, lang, rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get lsp process: %w", err)
	}

	m.recordAccess(lang)

	client := process.Client()
	if client == nil || !client.IsReady() {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, lang)
	}
	return client, nil
}

func (m *Manager) rootFor(doc Document, lang Language) string {
	path := doc.Path()
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			return wd
		}
		return os.TempDir()
	}
	if root, found := m.FindProjectRoot(path, lang); found {
		return root
	}
	return filepath.Dir(path)
}

func (m *Manager) circuitFor(lang Language) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.circuits[lang]
	if !ok {
		cb = NewCircuitBreaker(string(lang), m.config.Circuit)
		m.circuits[lang] = cb
	}
	return cb
}

// LanguageFor picks the server for doc: its language id when a server is
// configured under that name, otherwise the file extension.
func (m *Manager) LanguageFor(doc Document) Language {
	if !m.config.Enabled {
		return ""
	}
	lang := Language(doc.LanguageID())
	if m.IsLanguageSupported(lang) {
		return lang
	}
	if path := doc.Path(); path != "" {
		return m.DetectLanguage(path)
	}
	return ""
}

func (m *Manager) getOrStartProcess(ctx context.Context, lang Language, rootPath string) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller is starting this language; wait for it and look again.
	for {
		pending, ok := m.starting[lang]
		if !ok {
			break
		}
		m.mu.Unlock()
		select {
		case <-pending:
		case <-ctx.Done():
			m.mu.Lock()
			return nil, ctx.Err()
		}
		m.mu.Lock()
	}

	if proc, exists := m.processes[lang]; exists {
		if proc.State() == StateReady && proc.Alive() {
			if proc.RootPath() == rootPath {
				log.Debug("reusing LSP", "language", lang)
				return proc, nil
			}
		}
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := proc.Stop(stopCtx); err != nil {
			proc.Kill()
		}
		cancel()
		delete(m.processes, lang)
	}

	runningCount := 0
	for _, p := range m.processes {
		if p.State() == StateReady {
			runningCount++
		}
	}

	if runningCount >= m.config.MaxConcurrent {
		if err := m.stopOldestProcess(ctx); err != nil {
			return nil, fmt.Errorf("at max concurrent (%d) and cannot stop idle process: %w",
				m.config.MaxConcurrent, err)
		}
	}

	serverConfig, ok := m.config.Servers[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLanguageNotSupported, lang)
	}

	proc := NewProcess(serverConfig)
	done := make(chan struct{})
	m.starting[lang] = done

	m.mu.Unlock()

	log.Info("starting LSP", "language", lang, "root", rootPath)

	err := proc.Start(ctx, rootPath)
	m.mu.Lock()

	delete(m.starting, lang)
	close(done)

	if err != nil {
		log.Error("failed to start LSP", "language", lang, "error", err)
		return nil, err
	}

	m.processes[lang] = proc
	m.setupIdleTimer(lang)

	return proc, nil
}

func (m *Manager) stopOldestProcess(ctx context.Context) error {
	var oldestLang Language
	var oldestTime time.Time

	for lang, t := range m.lastAccess {
		if proc, exists := m.processes[lang]; exists {
			if proc.State() == StateReady {
				if oldestTime.IsZero() || t.Before(oldestTime) {
					oldestTime = t
					oldestLang = lang
				}
			}
		}
	}

	if oldestLang == "" {
		return errors.New("no idle process to stop")
	}

	return m.stopProcessLocked(ctx, oldestLang)
}

func (m *Manager) stopProcessLocked(ctx context.Context, lang Language) error {
	proc, exists := m.processes[lang]
	if !exists {
		return nil
	}

	log.Info("stopping LSP", "language", lang, "reason", "idle")

	if timer, exists := m.idleTimers[lang]; exists {
		timer.Stop()
		delete(m.idleTimers, lang)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := proc.Stop(stopCtx); err != nil {
		proc.Kill()
	}

	delete(m.processes, lang)
	delete(m.lastAccess, lang)

	return nil
}

func (m *Manager) setupIdleTimer(lang Language) {
	if timer, exists := m.idleTimers[lang]; exists {
		timer.Stop()
	}

	log.Debug("LSP idle timer set", "language", lang, "timeout", m.config.IdleTimeout)

	m.idleTimers[lang] = time.AfterFunc(m.config.IdleTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if lastAccess, exists := m.lastAccess[lang]; exists {
			if time.Since(lastAccess) >= m.config.IdleTimeout {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				m.stopProcessLocked(ctx, lang)
			}
		}
	})
}

func (m *Manager) recordAccess(lang Language) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastAccess[lang] = time.Now()
	m.setupIdleTimer(lang)
}

// StartProcess starts the server for lang ahead of the first request.
func (m *Manager) StartProcess(ctx context.Context, lang Language, rootPath string) error {
	if m.isClosed() {
		return ErrManagerClosed
	}

	_, err := m.getOrStartProcess(ctx, lang, rootPath)
	return err
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Info("stopping all LSP processes")

	var lastErr error
	for lang := range m.processes {
		if err := m.stopProcessLocked(ctx, lang); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.closedCh)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return m.StopAll(ctx)
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manager) Stats() map[Language]LSPStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[Language]LSPStats)
	for lang, proc := range m.processes {
		st := proc.Stats()
		if cb, ok := m.circuits[lang]; ok {
			st.Circuit = cb.State()
		}
		stats[lang] = st
	}
	return stats
}

func (m *Manager) DetectLanguage(path string) Language {
	ext := strings.ToLower(filepath.Ext(path))

	for lang, config := range m.config.Servers {
		if !config.Enabled {
			continue
		}
		for _, e := range config.Extensions {
			if e == ext {
				return lang
			}
		}
	}

	return ""
}

func (m *Manager) FindProjectRoot(path string, lang Language) (string, bool) {
	config, ok := m.config.Servers[lang]
	if !ok {
		return "", false
	}

	dir := filepath.Dir(path)
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}

	for {
		for _, pattern := range config.RootPatterns {
			checkPath := filepath.Join(absDir, pattern)
			if _, err := os.Stat(checkPath); err == nil {
				return absDir, true
			}
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			break
		}
		absDir = parent
	}

	return "", false
}

func (m *Manager) IsLanguageSupported(lang Language) bool {
	config, ok := m.config.Servers[lang]
	return ok && config.Enabled
}

func (m *Manager) IsLanguageInstalled(lang Language) bool {
	config, ok := m.config.Servers[lang]
	if !ok {
		return false
	}
	return NewProcess(config).IsInstalled()
}

func (m *Manager) EnabledLanguages() []Language {
	return m.config.GetEnabledLanguages()
}

func (m *Manager) InstalledLanguages() []Language {
	var installed []Language
	for lang, config := range m.config.Servers {
		if config.Enabled {
			if NewProcess(config).IsInstalled() {
				installed = append(installed, lang)
			}
		}
	}
	return installed
}

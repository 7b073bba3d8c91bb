package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/uri"

	"github.com/alucardeht/code-fader/internal/config"
	"github.com/alucardeht/code-fader/internal/document"
	"github.com/alucardeht/code-fader/internal/fader"
	"github.com/alucardeht/code-fader/internal/index"
	"github.com/alucardeht/code-fader/internal/logger"
	"github.com/alucardeht/code-fader/internal/lsp"
	"github.com/alucardeht/code-fader/internal/watcher"
)

var log = logger.ForComponent("daemon")

const Name = "codefaderd"

// Version is stamped at build time.
var Version = "dev"

// LanguageServers is the part of the language-server pool the daemon talks
// to directly. Symbol and highlight traffic goes through the providers.
type LanguageServers interface {
	CloseDocument(ctx context.Context, u uri.URI)
	Stats() map[lsp.Language]lsp.LSPStats
}

type Options struct {
	Config     *config.Config
	ConfigPath string
	Store      index.Store
	Symbols    index.SymbolProvider
	Highlights fader.HighlightProvider
	ModTime    index.ModTimeFunc
	Servers    LanguageServers
}

type Daemon struct {
	cfg        atomic.Pointer[config.Config]
	configPath string

	store       index.Store
	docs        *document.Registry
	cache       *index.Cache
	resolver    *fader.Resolver
	coordinator *fader.Coordinator
	warmer      *index.Warmer
	watcher     *watcher.Watcher
	servers     LanguageServers

	lifecycle *LifecycleManager
	listener  *SocketListener

	sessions map[*jsonrpc2.Conn]struct{}
	sessMu   sync.Mutex

	shutdown     chan struct{}
	shutdownOnce sync.Once
	startTime    time.Time
}

func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Store == nil || opts.Symbols == nil || opts.Highlights == nil {
		return nil, errors.New("daemon needs a store, a symbol provider and a highlight provider")
	}
	if opts.ModTime == nil {
		opts.ModTime = func(ctx context.Context, doc index.Document) (int64, bool) {
			return document.ModTime(ctx, doc)
		}
	}

	cache, err := index.NewCache(opts.Store, opts.Symbols, opts.ModTime,
		index.WithMemoryEntries(opts.Config.Store.MemoryEntries))
	if err != nil {
		return nil, fmt.Errorf("create symbol cache: %w", err)
	}

	d := &Daemon{
		store:     opts.Store,
		docs:      document.NewRegistry(),
		cache:     cache,
		servers:   opts.Servers,
		sessions:  make(map[*jsonrpc2.Conn]struct{}),
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
	}
	if opts.ConfigPath != "" {
		d.configPath = filepath.Clean(opts.ConfigPath)
	}
	d.cfg.Store(opts.Config)

	d.resolver = fader.NewResolver(cache, opts.Highlights)
	d.coordinator = fader.NewCoordinator(d.resolver, hostPresenter{}, d.settings)

	if opts.Config.Warmer.Enabled {
		d.warmer = index.NewWarmer(d.warm, opts.Config.Warmer.Index())
	}

	return d, nil
}

func (d *Daemon) Config() *config.Config {
	return d.cfg.Load()
}

func (d *Daemon) settings() fader.Settings {
	return d.cfg.Load().Fader.Settings()
}

// Start runs the background workers: the cache warmer and the file watcher.
func (d *Daemon) Start(ctx context.Context) error {
	cfg := d.cfg.Load()

	if d.warmer != nil {
		d.warmer.Start()
	}

	if !cfg.Watcher.Enabled {
		return nil
	}

	w, err := watcher.New(cfg.Watcher, d.onFlush)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if d.configPath != "" {
		if err := w.WatchFile(d.configPath); err != nil {
			log.Warn("cannot watch config file", "path", d.configPath, "error", err)
		}
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	d.watcher = w
	return nil
}

// ListenAndServe takes the instance lock, listens on the configured socket
// and serves host connections until Shutdown or ctx is done.
func (d *Daemon) ListenAndServe(ctx context.Context) error {
	cfg := d.cfg.Load()

	lm := NewLifecycleManager(cfg.Daemon.LockPath, cfg.Daemon.SocketPath)
	if err := lm.AcquireInstanceLock(); err != nil {
		return err
	}
	d.lifecycle = lm
	if err := d.lifecycle.RegisterRunningDaemon(); err != nil {
		log.Warn("failed to write pid file", "error", err)
	}

	listener := NewSocketListener(cfg.Daemon.SocketPath)
	if err := listener.Start(); err != nil {
		d.lifecycle.Cleanup()
		return fmt.Errorf("listen on %s: %w", cfg.Daemon.SocketPath, err)
	}
	d.listener = listener

	if err := d.Start(ctx); err != nil {
		d.Shutdown()
		return err
	}

	log.Info("daemon listening", "socket", cfg.Daemon.SocketPath, "version", Version)

	go func() {
		select {
		case <-ctx.Done():
			d.Shutdown()
		case <-d.shutdown:
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-d.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("accept failed", "error", err)
			continue
		}
		d.ServeConn(ctx, conn)
	}
}

// ServeConn speaks the host protocol over rwc until either side closes it.
func (d *Daemon) ServeConn(ctx context.Context, rwc io.ReadWriteCloser) *jsonrpc2.Conn {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, &handler{d: d})

	d.sessMu.Lock()
	d.sessions[conn] = struct{}{}
	n := len(d.sessions)
	d.sessMu.Unlock()
	log.Info("host connected", "sessions", n)

	go func() {
		<-conn.DisconnectNotify()
		d.sessMu.Lock()
		delete(d.sessions, conn)
		d.sessMu.Unlock()
		log.Info("host disconnected")
	}()
	return conn
}

func (d *Daemon) broadcast(ctx context.Context, method string, params interface{}) {
	d.sessMu.Lock()
	conns := make([]*jsonrpc2.Conn, 0, len(d.sessions))
	for c := range d.sessions {
		conns = append(conns, c)
	}
	d.sessMu.Unlock()

	for _, c := range conns {
		if err := c.Notify(ctx, method, params); err != nil {
			log.Debug("notify failed", "method", method, "error", err)
		}
	}
}

// Shutdown stops accepting hosts, drops open connections and stops the
// background workers. The store and language servers belong to the caller.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		log.Info("daemon shutting down")
		close(d.shutdown)

		if d.listener != nil {
			d.listener.Close()
		}

		d.sessMu.Lock()
		for conn := range d.sessions {
			conn.Close()
		}
		d.sessMu.Unlock()

		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				log.Debug("watcher stop failed", "error", err)
			}
		}
		if d.warmer != nil {
			d.warmer.Stop()
		}
		if d.lifecycle != nil {
			d.lifecycle.Cleanup()
		}
	})
}

// Done is closed once Shutdown has begun.
func (d *Daemon) Done() <-chan struct{} {
	return d.shutdown
}

func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.startTime)
}

func (d *Daemon) Status(ctx context.Context) StatusResult {
	d.sessMu.Lock()
	sessions := len(d.sessions)
	d.sessMu.Unlock()

	st := StatusResult{
		Version:    Version,
		PID:        os.Getpid(),
		Uptime:     d.Uptime().Round(time.Second).String(),
		Documents:  d.docs.Len(),
		Sessions:   sessions,
		Selections: d.coordinator.Version(),
		Cache:      d.cache.Stats(),
	}
	if s, ok := d.store.(interface {
		Stats(context.Context) (*index.StoreStats, error)
	}); ok {
		if stats, err := s.Stats(ctx); err == nil {
			st.Store = stats
		}
	}
	if d.warmer != nil {
		ws := d.warmer.Stats()
		st.Warmer = &ws
	}
	if d.servers != nil {
		st.LSP = d.servers.Stats()
	}
	return st
}

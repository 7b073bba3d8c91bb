package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/alucardeht/code-fader/internal/config"
	"github.com/alucardeht/code-fader/internal/document"
	"github.com/alucardeht/code-fader/internal/watcher"
)

func (d *Daemon) openDocument(p protocol.DidOpenTextDocumentParams) *document.Buffer {
	u := uri.URI(p.TextDocument.URI)
	lang := string(p.TextDocument.LanguageID)
	if lang == "" && document.IsFileURI(u) {
		lang = document.LanguageID(u.Filename())
	}

	buf := document.NewBuffer(u, lang, p.TextDocument.Version, p.TextDocument.Text)
	d.docs.Open(buf)
	d.watch(buf)
	return buf
}

func (d *Daemon) changeDocument(p DidChangeParams) error {
	if len(p.ContentChanges) == 0 {
		return nil
	}
	text := p.ContentChanges[len(p.ContentChanges)-1].Text
	_, err := d.docs.Update(uri.URI(p.TextDocument.URI), p.TextDocument.Version, text)
	return err
}

func (d *Daemon) closeDocument(ctx context.Context, u uri.URI) {
	buf, ok := d.docs.Get(u)
	d.docs.Close(u)
	if ok && d.watcher != nil && buf.Path() != "" && filepath.Clean(buf.Path()) != d.configPath {
		d.watcher.UnwatchFile(buf.Path())
	}
	if d.servers != nil {
		d.servers.CloseDocument(ctx, u)
	}
}

// document returns the buffer for u, reading it from disk when the host
// has not opened it.
func (d *Daemon) document(u protocol.DocumentURI) (*document.Buffer, error) {
	buf, err := d.docs.GetOrLoad(uri.URI(u))
	if err != nil {
		return nil, err
	}
	if buf.FromDisk() {
		d.watch(buf)
	}
	return buf, nil
}

func (d *Daemon) watch(buf *document.Buffer) {
	if d.watcher == nil || buf.Path() == "" {
		return
	}
	if err := d.watcher.WatchFile(buf.Path()); err != nil {
		log.Debug("cannot watch document", "path", buf.Path(), "error", err)
	}
}

// onFlush handles a debounced batch of file changes: a config change is
// reloaded, everything else is re-read if needed and re-indexed.
func (d *Daemon) onFlush(events []watcher.FileEvent) {
	var paths []string
	for _, p := range watcher.Changed(events) {
		if d.configPath != "" && p == d.configPath {
			d.reloadConfig(context.Background())
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return
	}

	log.Debug("files changed", "count", len(paths))
	if d.warmer != nil {
		d.warmer.EnqueueBatch(paths, watcher.ClassifyBatch(events))
		return
	}
	for _, p := range paths {
		if err := d.warm(context.Background(), p); err != nil {
			log.Warn("warm failed", "path", p, "error", err)
		}
	}
}

// warm refreshes a disk-loaded buffer and rebuilds its symbol index for
// the file's new mtime. Documents closed in the meantime are skipped.
func (d *Daemon) warm(ctx context.Context, path string) error {
	u := uri.File(path)
	buf, ok := d.docs.Get(u)
	if !ok {
		return nil
	}
	if buf.FromDisk() {
		fresh, err := d.docs.Reload(u)
		if err != nil {
			return fmt.Errorf("reload %s: %w", path, err)
		}
		buf = fresh
	}
	idx := d.cache.Load(ctx, buf)
	log.Debug("index warmed", "path", path, "symbols", idx.Len())
	return nil
}

func (d *Daemon) reloadConfig(ctx context.Context) {
	next, err := config.Load(d.configPath)
	if err != nil {
		log.Warn("config reload failed, keeping previous settings", "path", d.configPath, "error", err)
		return
	}

	prev := d.cfg.Swap(next)
	log.Info("config reloaded", "path", d.configPath, "enabled", next.Fader.Enabled, "auto_unfold", next.Fader.AutoUnfold)

	if configChanged(prev) != configChanged(next) {
		d.broadcast(ctx, MethodConfigChanged, configChanged(next))
	}
}

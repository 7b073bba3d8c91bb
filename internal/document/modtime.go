package document

import (
	"context"
	"os"
)

// ModTime stats the file behind doc and returns its modification time in
// unix milliseconds. Untitled and other non-file documents report ok=false.
func ModTime(_ context.Context, doc any) (int64, bool) {
	d, ok := doc.(interface{ Path() string })
	if !ok {
		return 0, false
	}
	path := d.Path()
	if path == "" {
		return 0, false
	}

	info, err := os.Stat(path)
	if err != nil {
		log.Debug("stat failed", "path", path, "error", err)
		return 0, false
	}
	return info.ModTime().UnixMilli(), true
}

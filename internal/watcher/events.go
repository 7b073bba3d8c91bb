package watcher

import (
	"time"

	"github.com/alucardeht/code-fader/internal/index"
)

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

type FileEvent struct {
	Path      string
	Type      EventType
	Timestamp time.Time
}

// ClassifyBatch picks a warm priority for a flushed batch. A lone save is
// usually the file the user is looking at; a large batch is a checkout or
// a build and can wait.
func ClassifyBatch(events []FileEvent) index.JobPriority {
	switch n := len(events); {
	case n <= 2:
		return index.PriorityHigh
	case n <= 10:
		return index.PriorityNormal
	default:
		return index.PriorityLow
	}
}

// Changed returns the paths whose contents may have changed, dropping
// deletions.
func Changed(events []FileEvent) []string {
	paths := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.Type == EventDelete {
			continue
		}
		paths = append(paths, ev.Path)
	}
	return paths
}

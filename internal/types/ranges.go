package types

import (
	"encoding/json"
	"fmt"
)

// Position is zero-based. Character counts UTF-16 code units.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

func (p Position) Less(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Character)
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

func NewRange(startLine, startChar, endLine, endChar int) Range {
	return Range{
		Start: Position{Line: startLine, Character: startChar},
		End:   Position{Line: endLine, Character: endChar},
	}
}

func (r Range) IsEmpty() bool {
	return r.Start == r.End
}

func (r Range) IsSingleLine() bool {
	return r.Start.Line == r.End.Line
}

// Lines drops the character offsets.
func (r Range) Lines() LineInterval {
	return LineInterval{Start: r.Start.Line, End: r.End.Line}
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s", r.Start, r.End)
}

// LineInterval is an inclusive span of lines.
type LineInterval struct {
	Start int
	End   int
}

func (l LineInterval) Contains(line int) bool {
	return line >= l.Start && line <= l.End
}

func (l LineInterval) String() string {
	return fmt.Sprintf("[%d,%d]", l.Start, l.End)
}

// MarshalJSON emits the [start, end] pair hosts use for fold requests.
func (l LineInterval) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%d,%d]", l.Start, l.End)), nil
}

func (l *LineInterval) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	l.Start, l.End = pair[0], pair[1]
	return nil
}

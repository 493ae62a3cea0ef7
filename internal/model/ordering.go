package model

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Position is a (section, row) coordinate in the task list.
type Position struct {
	Section int `json:"section" yaml:"section"`
	Row     int `json:"row" yaml:"row"`
}

// String formats the position as "section:row".
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Section, p.Row)
}

// Section is a titled, ordered group of task keys.
type Section struct {
	Title string   `json:"title" yaml:"title"`
	Keys  []string `json:"keys" yaml:"keys"`
}

// CloneSections returns a deep copy of sections.
func CloneSections(sections []Section) []Section {
	if sections == nil {
		return nil
	}
	out := make([]Section, len(sections))
	for i, s := range sections {
		out[i] = Section{Title: s.Title, Keys: append([]string(nil), s.Keys...)}
	}
	return out
}

// SortMode selects how the task list is ordered.
type SortMode int

const (
	// SortManual keeps the caller-controlled section layout.
	SortManual SortMode = iota

	// SortByAddTime groups tasks by the day they were added.
	SortByAddTime

	// SortByName groups tasks by the first letter of their name.
	SortByName

	// SortBySize groups tasks into size buckets.
	SortBySize

	// SortByType groups tasks by the top-level MIME type.
	SortByType
)

var sortModeNames = map[SortMode]string{
	SortManual:    "manual",
	SortByAddTime: "add_time",
	SortByName:    "name",
	SortBySize:    "size",
	SortByType:    "type",
}

func (m SortMode) String() string {
	if name, ok := sortModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("sort_mode(%d)", int(m))
}

// ParseSortMode parses the names used in configuration files.
func ParseSortMode(name string) (SortMode, error) {
	for mode, n := range sortModeNames {
		if strings.EqualFold(n, name) {
			return mode, nil
		}
	}
	return SortManual, fmt.Errorf("unknown sort mode %q", name)
}

// SortOrder is the direction applied to sections and rows.
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

func (o SortOrder) String() string {
	if o == Descending {
		return "descending"
	}
	return "ascending"
}

// ParseSortOrder parses "ascending" or "descending".
func ParseSortOrder(name string) (SortOrder, error) {
	switch strings.ToLower(name) {
	case "ascending", "asc":
		return Ascending, nil
	case "descending", "desc":
		return Descending, nil
	}
	return Ascending, fmt.Errorf("unknown sort order %q", name)
}

const (
	megabyte = 1 << 20
	gigabyte = 1 << 30
)

// Arrange derives the sectioned list for a predefined sort mode.
//
// Tasks are grouped into sections by the sort key and ordered by the sort
// key inside each section, ties broken by AddedAt. Descending order reverses
// both the sections and the rows. SortManual is not derived; callers keep
// the manual layout themselves, so Arrange falls back to a single section
// ordered by AddedAt.
func Arrange(tasks []Task, mode SortMode, order SortOrder) []Section {
	if len(tasks) == 0 {
		return nil
	}

	sorted := make([]Task, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lessTask(&sorted[i], &sorted[j], mode)
	})

	var sections []Section
	index := make(map[string]int)
	for i := range sorted {
		title := sectionTitle(&sorted[i], mode)
		n, ok := index[title]
		if !ok {
			n = len(sections)
			index[title] = n
			sections = append(sections, Section{Title: title})
		}
		sections[n].Keys = append(sections[n].Keys, sorted[i].URL)
	}

	if order == Descending {
		for i, j := 0, len(sections)-1; i < j; i, j = i+1, j-1 {
			sections[i], sections[j] = sections[j], sections[i]
		}
		for _, s := range sections {
			for i, j := 0, len(s.Keys)-1; i < j; i, j = i+1, j-1 {
				s.Keys[i], s.Keys[j] = s.Keys[j], s.Keys[i]
			}
		}
	}
	return sections
}

func lessTask(a, b *Task, mode SortMode) bool {
	switch mode {
	case SortByName:
		an, bn := strings.ToLower(a.Name()), strings.ToLower(b.Name())
		if an != bn {
			return an < bn
		}
	case SortBySize:
		as, bs := taskSize(a), taskSize(b)
		if as != bs {
			return as < bs
		}
	case SortByType:
		at, bt := majorType(a.FileType), majorType(b.FileType)
		if at != bt {
			return at < bt
		}
		an, bn := strings.ToLower(a.Name()), strings.ToLower(b.Name())
		if an != bn {
			return an < bn
		}
	}
	return a.AddedAt < b.AddedAt
}

func sectionTitle(t *Task, mode SortMode) string {
	switch mode {
	case SortByAddTime:
		if t.AddedTime.IsZero() {
			return "Unknown"
		}
		return t.AddedTime.Format("2006-01-02")
	case SortByName:
		if r, _ := utf8.DecodeRuneInString(t.Name()); unicode.IsLetter(r) {
			return string(unicode.ToUpper(r))
		}
		return "#"
	case SortBySize:
		size := taskSize(t)
		switch {
		case size <= 0:
			return "Unknown"
		case size < megabyte:
			return "Under 1 MB"
		case size < 100*megabyte:
			return "1 MB to 100 MB"
		case size < gigabyte:
			return "100 MB to 1 GB"
		default:
			return "Over 1 GB"
		}
	case SortByType:
		return majorType(t.FileType)
	}
	return ""
}

func taskSize(t *Task) int64 {
	if t.ExpectedBytes > 0 {
		return t.ExpectedBytes
	}
	if t.State == StateFinished {
		return t.ReceivedBytes
	}
	return 0
}

func majorType(mime string) string {
	major, _, _ := strings.Cut(mime, "/")
	major = strings.TrimSpace(strings.ToLower(major))
	if major == "" {
		return "other"
	}
	return major
}

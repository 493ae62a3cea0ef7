package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"https://example.com/file.iso", false},
		{"http://example.com", false},
		{"HTTPS://example.com/a", false},
		{"ftp://example.com/file.iso", true},
		{"file:///etc/passwd", true},
		{"/relative/path", true},
		{"example.com/file", true},
		{"https://", true},
		{"://broken", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := ValidateURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDeriveFileName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://example.com/files/video.mp4", "video.mp4"},
		{"https://example.com/files/video.mp4?token=abc", "video.mp4"},
		{"https://example.com/", "example.com"},
		{"https://example.com", "example.com"},
		{"https://example.com/a%20b.txt", "a b.txt"},
		{"https://example.com/dir/", "dir"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveFileName(tt.raw))
		})
	}
}

func TestState_TextRoundTrip(t *testing.T) {
	for s := StateNotInList; s <= StateFinished; s++ {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var got State
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("exploded")))
}

func TestTask_JSONUsesStateNames(t *testing.T) {
	task := Task{URL: "https://example.com/a", State: StateStopped, ResumeToken: []byte("tok")}
	data, err := json.Marshal(task)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"stopped"`)
}

func TestTask_Progress(t *testing.T) {
	tests := []struct {
		name string
		task Task
		want float64
	}{
		{"unknown size", Task{State: StateDownloading, ReceivedBytes: 10}, 0},
		{"half", Task{State: StateDownloading, ReceivedBytes: 50, ExpectedBytes: 100}, 0.5},
		{"overshoot", Task{State: StateDownloading, ReceivedBytes: 150, ExpectedBytes: 100}, 1},
		{"finished", Task{State: StateFinished}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.task.Progress(), 1e-9)
		})
	}
}

func TestTask_CloneCopiesToken(t *testing.T) {
	task := Task{ResumeToken: []byte("abc")}
	clone := task.Clone()
	clone.ResumeToken[0] = 'z'
	assert.Equal(t, "abc", string(task.ResumeToken))
}

func TestTask_Name(t *testing.T) {
	task := Task{FileName: "file.iso"}
	assert.Equal(t, "file.iso", task.Name())
	task.DisplayName = "Install Image"
	assert.Equal(t, "Install Image", task.Name())
}

func TestArrange(t *testing.T) {
	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	tasks := []Task{
		{URL: "u1", FileName: "beta.mp4", FileType: "video/mp4", ExpectedBytes: 5 * megabyte, AddedAt: 1, AddedTime: day1},
		{URL: "u2", FileName: "alpha.txt", FileType: "text/plain", ExpectedBytes: 10, AddedAt: 2, AddedTime: day1},
		{URL: "u3", FileName: "_hidden", AddedAt: 3, AddedTime: day2},
		{URL: "u4", FileName: "Avatar.mkv", FileType: "video/x-matroska", ExpectedBytes: 2 * gigabyte, AddedAt: 4, AddedTime: day2},
	}

	tests := []struct {
		name  string
		mode  SortMode
		order SortOrder
		want  []Section
	}{
		{
			name: "add time ascending",
			mode: SortByAddTime,
			want: []Section{
				{Title: "2024-03-01", Keys: []string{"u1", "u2"}},
				{Title: "2024-03-02", Keys: []string{"u3", "u4"}},
			},
		},
		{
			name:  "add time descending",
			mode:  SortByAddTime,
			order: Descending,
			want: []Section{
				{Title: "2024-03-02", Keys: []string{"u4", "u3"}},
				{Title: "2024-03-01", Keys: []string{"u2", "u1"}},
			},
		},
		{
			name: "name",
			mode: SortByName,
			want: []Section{
				{Title: "#", Keys: []string{"u3"}},
				{Title: "A", Keys: []string{"u2", "u4"}},
				{Title: "B", Keys: []string{"u1"}},
			},
		},
		{
			name: "size",
			mode: SortBySize,
			want: []Section{
				{Title: "Unknown", Keys: []string{"u3"}},
				{Title: "Under 1 MB", Keys: []string{"u2"}},
				{Title: "1 MB to 100 MB", Keys: []string{"u1"}},
				{Title: "Over 1 GB", Keys: []string{"u4"}},
			},
		},
		{
			name: "type",
			mode: SortByType,
			want: []Section{
				{Title: "other", Keys: []string{"u3"}},
				{Title: "text", Keys: []string{"u2"}},
				{Title: "video", Keys: []string{"u4", "u1"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Arrange(tasks, tt.mode, tt.order))
		})
	}
}

func TestArrange_Empty(t *testing.T) {
	assert.Nil(t, Arrange(nil, SortByName, Ascending))
}

func TestParseSortMode(t *testing.T) {
	mode, err := ParseSortMode("SIZE")
	require.NoError(t, err)
	assert.Equal(t, SortBySize, mode)

	_, err = ParseSortMode("random")
	assert.Error(t, err)

	order, err := ParseSortOrder("desc")
	require.NoError(t, err)
	assert.Equal(t, Descending, order)
}

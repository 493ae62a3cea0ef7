package model

// Unlimited is the MaxConcurrent value that disables the admission cap.
const Unlimited = -1

// Options is the runtime configuration of a download manager.
//
// Example:
//
//	opts := model.Options{
//	    Identifier:        "default",
//	    DownloadsPath:     "/home/user/Downloads",
//	    MaxConcurrent:     3,
//	    PauseBySuspension: true,
//	    TrashEnabled:      true,
//	    SortMode:          model.SortByAddTime,
//	}
type Options struct {
	// Identifier names the durable records of this manager.
	Identifier string

	// DownloadsPath is the directory finished files are written to.
	DownloadsPath string

	// MaxConcurrent caps simultaneously downloading tasks. Values <= 0 mean
	// Unlimited.
	MaxConcurrent int

	// PauseBySuspension keeps paused transfers open instead of cancelling
	// them into a resume token.
	PauseBySuspension bool

	// TrashEnabled moves deleted tasks to the trash instead of discarding them.
	TrashEnabled bool

	// SortMode and SortOrder select the list layout.
	SortMode  SortMode
	SortOrder SortOrder
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Identifier:        "default",
		DownloadsPath:     ".",
		MaxConcurrent:     3,
		PauseBySuspension: true,
		TrashEnabled:      true,
		SortMode:          SortByAddTime,
		SortOrder:         Ascending,
	}
}

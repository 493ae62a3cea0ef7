// Package ioutils provides file system utilities for the download manager.
//
// # File Operations
//
//	// Ensure directory exists
//	err := ioutils.EnsureDir("/path/to/new/directory")
//
//	// Pick a destination that does not overwrite an existing file
//	dest, err := ioutils.UniquePath("/downloads/file.iso")
//
//	// Remove a file; a missing file is not an error
//	err = ioutils.RemoveFile(dest)
//
// # Filename Sanitization
//
// Use SanitizeFileName to remove invalid characters from filenames:
//
//	safe := ioutils.SanitizeFileName("Report: Q1/Q2") // Returns "Report_ Q1_Q2"
package ioutils

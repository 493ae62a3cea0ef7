// Package model defines the data structures shared by the download manager,
// its persistence engine and its front ends.
//
// # Task
//
// Task is the record kept for one download, keyed by its source URL:
//
//	task := model.Task{URL: "https://example.com/file.iso", State: model.StatePending}
//	fmt.Println(task.Name(), task.Progress())
//
// # States
//
// State enumerates the lifecycle: NotInList, Pending, Downloading, Paused,
// Stopped and Finished. A resume token exists only in Stopped and a file
// location only in Finished.
//
// # Ordering
//
// Tasks are presented as sections. Under SortManual the caller controls the
// layout; the other sort modes derive it on demand with Arrange:
//
//	sections := model.Arrange(tasks, model.SortBySize, model.Descending)
//
// # URLs
//
// ValidateURL accepts absolute http and https URLs only. DeriveFileName
// turns a URL into a safe local file name.
package model

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/handiism/dlmanager/internal/app"
	"github.com/handiism/dlmanager/internal/config"
	"github.com/handiism/dlmanager/internal/download"
	"github.com/handiism/dlmanager/internal/model"
	"github.com/handiism/dlmanager/internal/queue"
)

// closeTimeout bounds the wait for running transfers to hand back their
// resume tokens on exit.
const closeTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.App{
		Name:  "dlm",
		Usage: "a persistent download manager",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a JSON or YAML config file",
				Value:   config.DefaultPath(),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "downloads directory (overrides config)",
			},
			&cli.IntFlag{
				Name:  "max-concurrent",
				Usage: "concurrent downloads for this run, 0 for unlimited (overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides config)",
			},
		},
		Commands: []*cli.Command{{
			Name:      "get",
			Aliases:   []string{"add"},
			Usage:     "download URLs and wait until every queued download ended",
			ArgsUsage: "URL...",
			Action: withApp(func(a *app.App, c *cli.Context) error {
				if c.NArg() == 0 {
					return cli.Exit("no URLs given", 2)
				}
				return watch(c.Context, a.Manager, c.App.Writer, func() {
					urls := c.Args().Slice()
					accepted := a.Manager.Download(urls)
					if skipped := len(urls) - len(accepted); skipped > 0 {
						fmt.Fprintf(c.App.Writer, "skipped %d URL(s) that are invalid, already listed or in the trash\n", skipped)
					}
				})
			}),
		}, {
			Name:      "resume",
			Usage:     "resume paused, stopped or failed downloads, all of them without arguments",
			ArgsUsage: "[KEY...]",
			Action: withApp(func(a *app.App, c *cli.Context) error {
				return watch(c.Context, a.Manager, c.App.Writer, func() {
					if c.NArg() == 0 {
						a.Manager.ResumeAll()
						return
					}
					a.Manager.Resume(c.Args().Slice())
				})
			}),
		}, {
			Name:      "stop",
			Usage:     "stop downloads keeping their progress",
			ArgsUsage: "KEY...",
			Action: withApp(func(a *app.App, c *cli.Context) error {
				return report(c, a.Manager.Stop(c.Args().Slice()), "stopped")
			}),
		}, {
			Name:      "restart",
			Usage:     "download again from zero",
			ArgsUsage: "KEY...",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "keep-file", Usage: "keep the previously finished file"},
			},
			Action: withApp(func(a *app.App, c *cli.Context) error {
				return watch(c.Context, a.Manager, c.App.Writer, func() {
					a.Manager.Restart(c.Args().Slice(), c.Bool("keep-file"))
				})
			}),
		}, {
			Name:    "list",
			Aliases: []string{"ls"},
			Usage:   "list downloads",
			Action: withApp(func(a *app.App, c *cli.Context) error {
				return listSections(c.App.Writer, a.Manager.Sections(), a.Manager)
			}),
		}, {
			Name:      "delete",
			Aliases:   []string{"rm"},
			Usage:     "delete downloads, moving them to the trash when it is enabled",
			ArgsUsage: "KEY...",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "keep-file", Usage: "keep finished files on disk"},
			},
			Action: withApp(func(a *app.App, c *cli.Context) error {
				return report(c, a.Manager.Delete(c.Args().Slice(), c.Bool("keep-file")), "deleted")
			}),
		}, {
			Name:  "trash",
			Usage: "commands for the trash",
			Subcommands: []*cli.Command{{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "list trashed downloads",
				Action: withApp(func(a *app.App, c *cli.Context) error {
					return listTasks(c.App.Writer, a.Manager.Trash())
				}),
			}, {
				Name:      "restore",
				Usage:     "move downloads back into the list",
				ArgsUsage: "KEY...",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "section", Usage: "section to insert at under manual ordering"},
					&cli.IntFlag{Name: "row", Usage: "row to insert at under manual ordering"},
				},
				Action: withApp(func(a *app.App, c *cli.Context) error {
					var at *model.Position
					if a.Manager.SortMode() == model.SortManual {
						at = &model.Position{Section: c.Int("section"), Row: c.Int("row")}
					}
					return report(c, a.Manager.RestoreFromTrash(c.Args().Slice(), at), "restored")
				}),
			}, {
				Name:      "cleanup",
				Aliases:   []string{"empty"},
				Usage:     "permanently remove trashed downloads and their files, all of them without arguments",
				ArgsUsage: "[KEY...]",
				Action: withApp(func(a *app.App, c *cli.Context) error {
					if c.NArg() == 0 {
						return report(c, a.Manager.EmptyTrash(), "removed")
					}
					return report(c, a.Manager.CleanupTrash(c.Args().Slice()), "removed")
				}),
			}},
		}, {
			Name:      "limit",
			Usage:     "show or save the number of concurrent downloads, 0 for unlimited",
			ArgsUsage: "[N]",
			Action: func(c *cli.Context) error {
				settings, err := loadSettings(c)
				if err != nil {
					return err
				}
				if c.NArg() == 0 {
					fmt.Fprintln(c.App.Writer, limitLabel(queue.Normalize(settings.MaxConcurrent)))
					return nil
				}
				n, err := strconv.Atoi(c.Args().First())
				if err != nil {
					return cli.Exit(fmt.Sprintf("invalid limit %q", c.Args().First()), 2)
				}
				settings.MaxConcurrent = max(n, 0)
				if err := settings.Save(c.String("config")); err != nil {
					return fmt.Errorf("saving config: %w", err)
				}
				fmt.Fprintf(c.App.Writer, "limit set to %s\n", limitLabel(queue.Normalize(n)))
				return nil
			},
		}},
	}

	if err := cmd.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadSettings(c *cli.Context) (*config.Settings, error) {
	settings, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("output") {
		settings.DownloadsPath = c.String("output")
	}
	if c.IsSet("max-concurrent") {
		settings.MaxConcurrent = c.Int("max-concurrent")
	}
	if c.IsSet("log-level") {
		settings.LogLevel = c.String("log-level")
	}
	return settings, nil
}

// withApp opens the manager for one command and closes it afterwards,
// which saves the state.
func withApp(action func(a *app.App, c *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) (err error) {
		settings, err := loadSettings(c)
		if err != nil {
			return err
		}
		a, err := app.Open(c.Context, settings, c.App.ErrWriter)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			err = errors.Join(err, a.Close(ctx))
		}()
		return action(a, c)
	}
}

// watch runs start and prints events until the manager has nothing left
// to do or ctx is cancelled.
func watch(ctx context.Context, m *download.Manager, w io.Writer, start func()) error {
	idle := make(chan struct{}, 1)
	failed := 0
	sub := m.Subscribe(func(ev download.Event) {
		switch ev.Kind {
		case download.EventCompleted:
			if errors.Is(ev.Err, download.ErrFileSystem) {
				fmt.Fprintf(w, "! %s: %v\n", ev.Key, ev.Err)
				return
			}
			if ev.Err != nil {
				failed++
				fmt.Fprintf(w, "✗ %s: %v\n", ev.Key, ev.Err)
				return
			}
			fmt.Fprintf(w, "✓ %s → %s\n", ev.Key, ev.Location)
		case download.EventAggregate:
			if ev.Active > 0 {
				fmt.Fprintf(w, "  %d active, %d waiting, %.2f/%.2f MB\n",
					ev.Active, ev.Waiting, float64(ev.Received)/1024/1024, float64(ev.Expected)/1024/1024)
			}
		case download.EventIdle:
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})
	defer sub.Unsubscribe()

	start()
	if len(m.ActiveKeys())+len(m.WaitingKeys()) > 0 {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go m.Run(runCtx)

		select {
		case <-idle:
		case <-ctx.Done():
			fmt.Fprintln(w, "interrupted, saving progress")
			return nil
		}
	}

	m.Flush()
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d download(s) failed", failed), 1)
	}
	return nil
}

func report(c *cli.Context, keys []string, verb string) error {
	if keys == nil {
		return cli.Exit("nothing changed", 1)
	}
	for _, key := range keys {
		fmt.Fprintf(c.App.Writer, "%s %s\n", verb, key)
	}
	return nil
}

func listSections(w io.Writer, sections []model.Section, m *download.Manager) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range sections {
		if s.Title != "" {
			fmt.Fprintf(tw, "# %s\n", s.Title)
		}
		for _, key := range s.Keys {
			if t, ok := m.Task(key); ok {
				writeTask(tw, t)
			}
		}
	}
	return tw.Flush()
}

func listTasks(w io.Writer, tasks []model.Task) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, t := range tasks {
		writeTask(tw, t)
	}
	return tw.Flush()
}

func writeTask(w io.Writer, t model.Task) {
	note := t.FileLocation
	if t.LastError != "" {
		note = "error: " + t.LastError
	}
	fmt.Fprintf(w, "%s\t%3.0f%%\t%s\t%s\t%s\n", t.State, t.Progress()*100, t.Name(), t.URL, note)
}

func limitLabel(n int) string {
	if n == queue.Unlimited {
		return "unlimited"
	}
	return strconv.Itoa(n)
}

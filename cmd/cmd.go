// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles configuration and database setup.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Write the example configuration file",
				Action: r.SetupInit,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:  "migrations",
				Usage: "List migrations and whether they are applied",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.SetupStatus,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// serveCommand runs the site server together with the background runtime.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the site with offline caching, the submission outbox and background sync",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "proxy",
				Usage: "Forward pages to --upstream through the offline cache instead of serving public_dir",
			},
			&cli.StringFlag{
				Name:  "upstream",
				Usage: "Origin the proxy fronts (default: server.origin)",
			},
			&cli.BoolFlag{
				Name:  "open",
				Usage: "Open the site in the default browser",
			},
		},
		Action: r.Serve,
	}
}

// cacheCommand handles cache generations
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage versioned asset cache generations",
		Commands: []*cli.Command{
			{
				Name:   "install",
				Usage:  "Precache the static manifest as the current generation",
				Action: r.CacheInstall,
			},
			{
				Name:   "activate",
				Usage:  "Delete every generation except the current one",
				Action: r.CacheActivate,
			},
			{
				Name:  "status",
				Usage: "List stored generations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.CacheStatus,
			},
			{
				Name:  "fetch",
				Usage: "Fetch a site path through the cache",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "offline",
						Usage: "Fail every network request, answering from the cache only",
					},
					&cli.BoolFlag{
						Name:  "navigate",
						Usage: "Send the request as a page navigation",
					},
					&cli.BoolFlag{
						Name:  "body",
						Usage: "Print the response body",
					},
				},
				Action: r.CacheFetch,
			},
		},
	}
}

// queueCommand handles the submission outbox
func queueCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "queue",
		Aliases: []string{"outbox"},
		Usage:   "Queue, inspect and deliver offline submissions",
		Commands: []*cli.Command{
			{
				Name:  "submit",
				Usage: "Queue a submission",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "category",
					},
				},
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "field",
						Aliases: []string{"f"},
						Usage:   "Form field as name=value (repeatable)",
					},
					&cli.BoolFlag{
						Name:  "sync",
						Usage: "Try to deliver right away",
					},
				},
				Action: r.QueueSubmit,
			},
			{
				Name:  "list",
				Usage: "List the records of a category store",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "category",
					},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "pending",
						Usage: "Only list unsynced records",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of records to list",
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format: txt, json, csv, markdown",
						Value: "txt",
					},
				},
				Action: r.QueueList,
			},
			{
				Name:  "sync",
				Usage: "Deliver unsynced records now",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "category",
					},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.QueueSync,
			},
			{
				Name:  "export",
				Usage: "Export every store to files",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "format",
						Usage: "Export format: json, csv, markdown, txt",
						Value: "json",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output directory (default: miroir_export_<epoch>)",
					},
					&cli.BoolFlag{
						Name:  "pending",
						Usage: "Only export unsynced records",
					},
				},
				Action: r.QueueExport,
			},
		},
	}
}

// prefsCommand handles notification preferences
func prefsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "prefs",
		Aliases: []string{"preferences"},
		Usage:   "Read and change notification preferences",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Show every preference with its effective value",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.PrefsList,
			},
			{
				Name:  "get",
				Usage: "Show one stored preference",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "key"},
				},
				Action: r.PrefsGet,
			},
			{
				Name:  "set",
				Usage: "Store a preference",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "key"},
					&cli.StringArg{Name: "value"},
				},
				Action: r.PrefsSet,
			},
			{
				Name:  "reset",
				Usage: "Remove a stored preference so its default applies",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "key"},
				},
				Action: r.PrefsReset,
			},
		},
	}
}

// notifyCommand simulates push delivery and notification clicks
func notifyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "notify",
		Usage: "Exercise push notifications",
		Commands: []*cli.Command{
			{
				Name:  "push",
				Usage: "Handle a push payload as the background runtime would",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "payload"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.NotifyPush,
			},
			{
				Name:  "click",
				Usage: "Show which page a notification action opens",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "action"},
				},
				Action: r.NotifyClick,
			},
		},
	}
}

// statusCommand returns the top-level TUI command for the offline status dashboard.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "status",
		Aliases: []string{"tui", "ui"},
		Usage:   "Launch the interactive offline status dashboard",
		Action:  r.TUI,
	}
}

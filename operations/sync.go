package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	arxivsync "github.com/arXiv/arxiv-sync"
	"github.com/arXiv/arxiv-sync/publish"
	"github.com/arXiv/arxiv-sync/storage"
	"github.com/arXiv/arxiv-sync/sync"
)

// Sync returns the command that uploads everything a publish log names:
// ensure missing PDFs on the web nodes, then copy abs, source, and PDF
// files to the destination bucket.
func Sync() cli.Command {
	return cli.Command{
		Name:      "sync",
		Usage:     "upload the artifacts of a publish cycle to the bucket",
		ArgsUsage: "<publish-log>",
		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  joinFlagNames(dryRunFlagName, "n"),
				Usage: "print the upload plan as JSON and exit without changing anything",
			},
			cli.StringFlag{
				Name:  joinFlagNames(targetFlagName, "t"),
				Usage: "override the configured destination: a gs:// bucket, a file:// URL, or a directory",
			},
		},
		Before: mergeBeforeFuncs(requirePublishLogArg),
		Action: func(c *cli.Context) error {
			confPath := c.Parent().String(confFlagName)
			logPath := c.Args().First()
			dryRun := c.Bool(dryRunFlagName)
			target := c.String(targetFlagName)

			settings, err := arxivsync.NewSettings(confPath)
			if err != nil {
				return errors.Wrap(err, "loading settings")
			}
			if target != "" {
				settings.Upload.Target = target
			}

			fmt.Printf("Starting at %s\n", time.Now().Format(time.RFC3339))

			todos, err := publish.NewParser(settings.Paths.FTPPrefix).ParseFile(logPath)
			if err != nil {
				return errors.Wrapf(err, "parsing publish log '%s'", logPath)
			}

			if dryRun {
				return printPlan(todos)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go listenForInterrupt(cancel)

			return runSync(ctx, settings, todos)
		},
	}
}

func printPlan(todos []publish.Todo) error {
	out, err := json.MarshalIndent(todos, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshalling upload plan")
	}
	fmt.Println(string(out))
	fmt.Printf("%d submissions (some may be test submissions)\n", publish.SubmissionCount(todos))

	// The nonzero exit keeps rehearsal invocations from being mistaken
	// for completed runs by the surrounding automation.
	return cli.NewExitError("dry run, no changes made", 1)
}

func runSync(ctx context.Context, settings *arxivsync.Settings, todos []publish.Todo) error {
	dest, err := storage.NewDestination(ctx, settings.Upload.Target)
	if err != nil {
		return errors.Wrapf(err, "opening destination '%s'", settings.Upload.Target)
	}
	defer func() {
		grip.Error(message.WrapError(dest.Close(), "closing destination"))
	}()

	engine := sync.NewEngine(settings, dest)
	defer engine.Close()

	report, err := engine.Run(ctx, todos)
	if report != nil {
		printReport(report)
	}
	if err != nil {
		return errors.Wrap(err, "running sync")
	}
	if failed := report.Failed(); failed > 0 {
		return errors.Errorf("%d operations failed", failed)
	}
	return nil
}

func printReport(report *sync.Report) {
	grip.Error(message.WrapError(report.WriteCSV(os.Stdout), "writing summary"))

	fmt.Printf("Done at %s\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Overall time: %.2f sec for %d submissions\n",
		report.Elapsed.Seconds(), report.Submissions)

	grip.Info(message.Fields{
		"message":     "sync finished",
		"rows":        len(report.Rows),
		"submissions": report.Submissions,
		"failed":      report.Failed(),
		"uploaded":    humanize.Bytes(uint64(report.UploadedBytes())),
	})
}

func listenForInterrupt(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 5)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	grip.Warning("received signal, finishing started work before exiting")
	cancel()
}

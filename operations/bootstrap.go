package operations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	arxivsync "github.com/arXiv/arxiv-sync"
	"github.com/arXiv/arxiv-sync/bootstrap"
)

// Bootstrap returns the command that provisions the Python tooling the
// publish pipeline still depends on.
func Bootstrap() cli.Command {
	return cli.Command{
		Name:  "bootstrap",
		Usage: "prepare the Python environment for the legacy publish tooling",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  joinFlagNames(targetFlagName, "t"),
				Usage: "bootstrap target to run: env, tools, or sync (the default)",
			},
			cli.StringFlag{
				Name:  joinFlagNames(dirFlagName, "d"),
				Usage: "working directory for the bootstrap recipes",
			},
		},
		Before: mergeBeforeFuncs(setPlainLogger),
		Action: func(c *cli.Context) error {
			confPath := c.Parent().String(confFlagName)

			target, err := bootstrap.ParseTarget(c.String(targetFlagName))
			if err != nil {
				return err
			}

			settings, err := arxivsync.NewSettings(confPath)
			if err != nil {
				return errors.Wrap(err, "loading settings")
			}
			if dir := c.String(dirFlagName); dir != "" {
				settings.Bootstrap.Dir = dir
			}

			runner, err := bootstrap.NewRunner(settings.Bootstrap)
			if err != nil {
				return errors.Wrap(err, "configuring bootstrap")
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go listenForInterrupt(cancel)

			if err := runner.Run(ctx, target); err != nil {
				// The failing tool's exit code becomes our exit status.
				return cli.NewExitError(err.Error(), bootstrap.ExitCode(err))
			}
			return nil
		},
	}
}

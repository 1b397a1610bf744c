package operations

import (
	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

var (
	setPlainLogger = func(c *cli.Context) error {
		grip.Warning(grip.SetSender(send.MakePlainLogger()))
		return nil
	}

	requirePublishLogArg = func(c *cli.Context) error {
		if c.NArg() != 1 {
			return errors.New("must specify exactly one publish log")
		}
		if path := c.Args().First(); !utility.FileExists(path) {
			return errors.Errorf("publish log '%s' does not exist", path)
		}
		return nil
	}
)

func mergeBeforeFuncs(ops ...cli.BeforeFunc) cli.BeforeFunc {
	return func(c *cli.Context) error {
		catcher := grip.NewBasicCatcher()

		for _, op := range ops {
			catcher.Add(op(c))
		}

		return catcher.Resolve()
	}
}

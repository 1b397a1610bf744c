package operations

import (
	"encoding/json"
	"fmt"

	"github.com/cheynewallace/tabby"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	arxivsync "github.com/arXiv/arxiv-sync"
	"github.com/arXiv/arxiv-sync/publish"
)

// Todos returns the command that parses a publish log and prints the
// resulting upload plan without acting on it.
func Todos() cli.Command {
	return cli.Command{
		Name:      "todos",
		Usage:     "parse a publish log and print the upload plan",
		ArgsUsage: "<publish-log>",
		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  joinFlagNames(jsonFlagName, "j"),
				Usage: "print the plan as JSON instead of a table",
			},
		},
		Before: mergeBeforeFuncs(setPlainLogger, requirePublishLogArg),
		Action: func(c *cli.Context) error {
			confPath := c.Parent().String(confFlagName)
			logPath := c.Args().First()

			settings, err := arxivsync.NewSettings(confPath)
			if err != nil {
				return errors.Wrap(err, "loading settings")
			}

			todos, err := publish.NewParser(settings.Paths.FTPPrefix).ParseFile(logPath)
			if err != nil {
				return errors.Wrapf(err, "parsing publish log '%s'", logPath)
			}

			if c.Bool(jsonFlagName) {
				out, err := json.MarshalIndent(todos, "", "  ")
				if err != nil {
					return errors.Wrap(err, "marshalling upload plan")
				}
				fmt.Println(string(out))
				return nil
			}

			t := tabby.New()
			t.AddHeader("Submission", "Type", "ID", "Action", "Item")
			for _, todo := range todos {
				t.AddLine(todo.SubID, todo.Type, todo.IDV, todo.Action, todo.Item)
			}
			t.Print()
			fmt.Printf("%d todos for %d submissions\n", len(todos), publish.SubmissionCount(todos))
			return nil
		},
	}
}

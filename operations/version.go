package operations

import (
	"fmt"

	"github.com/urfave/cli"

	arxivsync "github.com/arXiv/arxiv-sync"
)

// Version returns the command that prints the version of the binary.
func Version() cli.Command {
	return cli.Command{
		Name:  "version",
		Usage: "prints the version of the sync tool",
		Action: func(c *cli.Context) error {
			fmt.Println(arxivsync.ClientVersion)
			return nil
		},
	}
}

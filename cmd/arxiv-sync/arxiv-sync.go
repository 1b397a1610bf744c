package main

import (
	"os"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/send"
	"github.com/urfave/cli"

	arxivsync "github.com/arXiv/arxiv-sync"
	"github.com/arXiv/arxiv-sync/operations"
)

func main() {
	// The command line interface is managed by the cli package and its
	// objects/structures. This, plus the basic configuration in
	// buildApp(), is all that's necessary for bootstrapping the
	// environment.
	app := buildApp()
	grip.EmergencyFatal(app.Run(os.Args))
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = arxivsync.AppName
	app.Usage = "synchronize published arXiv artifacts to Google Cloud Storage"
	app.Version = arxivsync.ClientVersion

	// Register sub-commands here.
	app.Commands = []cli.Command{
		operations.Version(),

		operations.Sync(),
		operations.Todos(),
		operations.Bootstrap(),
	}

	// These are global options. Use this to configure logging or
	// other options independent from specific sub commands.
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "level",
			Value: "info",
			Usage: "Specify lowest visible log level as string: 'emergency|alert|critical|error|warning|notice|info|debug|trace'",
		},
		cli.StringFlag{
			Name:  "conf, config, c",
			Usage: "specify the path for the sync settings file",
			Value: arxivsync.DefaultConfigFile,
		},
	}

	app.Before = func(c *cli.Context) error {
		return loggingSetup(app.Name, c.String("level"))
	}

	return app
}

func loggingSetup(name, l string) error {
	if err := grip.SetSender(send.MakeErrorLogger()); err != nil {
		return err
	}
	grip.SetName(name)

	sender := grip.GetSender()
	info := sender.Level()
	info.Threshold = level.FromString(l)

	return sender.SetLevel(info)
}

package main

import (
	"fmt"
	"os"

	"positionmanager/cmd/keys"
	"positionmanager/cmd/scheduler"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Position Manager CMD"
	app.Usage = "The position manager command line interface"

	app.Commands = []cli.Command{
		schedulerCMD,
		setKeyCMD,
		usersCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	schedulerCMD = cli.Command{
		Name:        "scheduler",
		Usage:       "run the trigger scheduler",
		Action:      schedulerAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the periodic price tick and trigger evaluation loop`,
	}

	setKeyCMD = cli.Command{
		Name:   "set-key",
		Usage:  "store encrypted exchange credentials for a user",
		Action: setKeyAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "username", Usage: "username of the credential owner"},
			cli.StringFlag{Name: "api-key", Usage: "exchange API key"},
			cli.StringFlag{Name: "api-secret", Usage: "exchange API secret"},
		},
		Description: `Encrypt and upsert the exchange API key pair for one user`,
	}

	usersCMD = cli.Command{
		Name:        "users",
		Usage:       "list active users",
		Action:      usersAction,
		Description: `Print the id and username of every active user`,
	}
)

func schedulerAction(_ *cli.Context) error {

	logrus.Info("Starting scheduler CMD")
	logrus.WithField("cmd", "scheduler")

	s := &scheduler.Scheduler{}
	err := s.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func setKeyAction(c *cli.Context) error {
	username := c.String("username")
	apiKey := c.String("api-key")
	apiSecret := c.String("api-secret")

	if username == "" || apiKey == "" || apiSecret == "" {
		return fmt.Errorf("username, api-key and api-secret are required")
	}

	k := &keys.Keys{}
	if err := k.SetKey(username, apiKey, apiSecret); err != nil {
		logrus.WithError(err).Error("Failed to store credentials")
		return err
	}

	return nil
}

func usersAction(_ *cli.Context) error {
	k := &keys.Keys{}
	if err := k.ListUsers(); err != nil {
		logrus.WithError(err).Error("Failed to list users")
		return err
	}

	return nil
}

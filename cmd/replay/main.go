package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/scenario"
)

func main() {
	app := cli.NewApp()

	app.Name = "replay"
	app.Usage = "Run a scenario against an in-process gatts-table server"
	app.UsageText = "replay --scenario scenario/testdata/stream.json"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "scenario, s", Usage: "Path to scenario JSON file"},
		cli.StringFlag{Name: "log-level, l", Value: "warn", Usage: "trace, debug, info, warn or error"},
		cli.BoolFlag{Name: "report", Usage: "Write a markdown report under the data dir"},
	}
	app.Action = replay

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func replay(c *cli.Context) error {
	path := c.String("scenario")
	if path == "" {
		return cli.ShowAppHelp(c)
	}
	logger.SetLevel(logger.ParseLevel(c.String("log-level")))

	s, err := scenario.LoadScenario(path)
	if err != nil {
		return errors.Wrap(err, "failed to load scenario")
	}

	fmt.Printf("=== Running Scenario: %s ===\n", s.Name)
	fmt.Printf("Description: %s\n", s.Description)
	fmt.Printf("Centrals: %d\n", len(s.Centrals))
	fmt.Printf("Events: %d\n", len(s.Timeline))
	fmt.Printf("Duration: %v\n\n", s.Duration())

	if problems := s.Validate(); len(problems) > 0 {
		fmt.Println("❌ Scenario validation failed:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return errors.New("invalid scenario")
	}

	runner := scenario.NewRunner(s)
	if err := runner.Setup(); err != nil {
		return errors.Wrap(err, "failed to setup scenario")
	}
	defer runner.Teardown()

	fmt.Println("Executing timeline...")
	if err := runner.Run(); err != nil {
		return errors.Wrap(err, "failed to run scenario")
	}

	runner.CheckAssertions()
	runner.PrintReport(os.Stdout)

	if c.Bool("report") {
		reportPath, err := runner.WriteReport()
		if err != nil {
			return err
		}
		fmt.Printf("Report written to: %s\n", reportPath)
	}

	if !runner.Passed() {
		return errors.New("some assertions failed")
	}
	fmt.Println("\n✅ All assertions passed!")
	return nil
}

// Command lsmctl is a command-line front end to the storage engine:
// one process per invocation, opening the engine, performing one
// operation, and closing it again.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/zvdy/lsm-go/engine"
	"github.com/zvdy/lsm-go/wal"
)

func main() {
	app := &cli.Command{
		Name:  "lsmctl",
		Usage: "inspect and mutate an lsm-go data directory",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dir",
				Value: "data",
				Usage: "data directory (WAL + SSTables live here)",
			},
			&cli.BoolFlag{
				Name:  "sync",
				Value: false,
				Usage: "fsync the WAL on every write, not just flush it",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Value: false,
				Usage: "log flush and compaction activity to stderr",
			},
		},

		Commands: []*cli.Command{
			putCommand(),
			getCommand(),
			deleteCommand(),
			statsCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openEngine(cmd *cli.Command) (*engine.Engine, error) {
	opts := engine.DefaultOptions()
	opts.Verbose = cmd.Bool("verbose")
	if cmd.Bool("sync") {
		opts.Durability = wal.DurabilitySync
	}
	return engine.Open(cmd.String("dir"), opts)
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "write a key/value pair",
		ArgsUsage: "<key> <value>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return fmt.Errorf("put requires exactly 2 arguments, got %d", cmd.Args().Len())
			}
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if err := e.Put([]byte(cmd.Args().Get(0)), []byte(cmd.Args().Get(1))); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "read the value for a key",
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("get requires exactly 1 argument, got %d", cmd.Args().Len())
			}
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			v, ok, err := e.Get([]byte(cmd.Args().Get(0)))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("(not found)")
				os.Exit(1)
			}
			fmt.Println(string(v))
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "remove a key",
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("delete requires exactly 1 argument, got %d", cmd.Args().Len())
			}
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if err := e.Delete([]byte(cmd.Args().Get(0))); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print the operation counters of the engine opened by this invocation (counters are not persisted)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			s := e.Stats()
			fmt.Printf("puts:                %d\n", s.Puts)
			fmt.Printf("deletes:             %d\n", s.Deletes)
			fmt.Printf("gets:                %d\n", s.Gets)
			fmt.Printf("get hits:            %d\n", s.GetHits)
			fmt.Printf("flushes:             %d\n", s.Flushes)
			fmt.Printf("compactions:         %d\n", s.Compactions)
			fmt.Printf("bloom false positives: %d\n", s.BloomFalsePositive)
			return nil
		},
	}
}

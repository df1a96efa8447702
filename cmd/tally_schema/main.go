package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/youta-t/flarc"

	kpool "github.com/teamtally/tally/pkg/conn/db/postgres/pool"
	"github.com/teamtally/tally/pkg/conn/db/postgres/schema"
	"github.com/teamtally/tally/pkg/utils/try"
)

type Flag struct {
	Database string `flag:"database" help:"Connection string of the database."`
	Schema   string `flag:"schema" help:"The path to the schema repository directory."`
}

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt, os.Kill,
	)
	defer cancel()

	cmd := try.To(flarc.NewCommand(
		"database schema upgrader",
		Flag{
			Database: os.Getenv("TALLY_DATABASE"),
			Schema:   os.Getenv("TALLY_SCHEMA"),
		},
		flarc.Args{},
		func(ctx context.Context, c flarc.Commandline[Flag], _ []any) error {
			flags := c.Flags()

			pgpool, err := pgxpool.Connect(ctx, flags.Database)
			if err != nil {
				return err
			}
			defer pgpool.Close()

			s := schema.New(kpool.Wrap(pgpool), flags.Schema)

			logger.Println("upgrading database schema...")
			if err := s.Upgrade(ctx); err != nil {
				return err
			}
			version := try.To(s.Version(ctx)).OrFatal(logger)
			logger.Println("schema version:", version)
			return nil
		},
	)).OrFatal(logger)

	os.Exit(flarc.Run(ctx, cmd))
}

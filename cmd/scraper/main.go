package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/progprogect/steamids-parser/internal/app"
	"github.com/progprogect/steamids-parser/internal/config"
	"github.com/progprogect/steamids-parser/internal/domain/item"
	"github.com/progprogect/steamids-parser/internal/pipeline"
	"github.com/progprogect/steamids-parser/internal/pkg/jwt"
	"github.com/progprogect/steamids-parser/internal/pkg/logging"
	"github.com/progprogect/steamids-parser/internal/repository"
)

type options struct {
	Source      string `long:"source" short:"s" env:"SOURCE" default:"ccu" description:"Source to run (ccu, itad, steamprice)"`
	File        string `long:"file" short:"f" env:"APP_IDS_FILE" description:"File with one app id per line"`
	RetryErrors bool   `long:"retry-errors" description:"Reset error items of the source to pending and run them"`
	Stats       bool   `long:"stats" description:"Print per-state counts for the source and exit"`
	Migrate     bool   `long:"migrate-only" description:"Apply database migrations and exit"`
	IssueToken  string `long:"issue-token" value-name:"OPERATOR" description:"Print a control-plane token for OPERATOR and exit"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log, os.Stdout)

	if err := run(opts, cfg, log); err != nil {
		log.WithError(err).Fatal("scraper failed")
	}
}

func run(opts options, cfg config.Config, log *logrus.Logger) error {
	if opts.IssueToken != "" {
		tok, exp, err := jwt.NewHMACService(cfg.Control.JWTSecret, cfg.Control.TokenTTL).GenerateOperatorToken(opts.IssueToken)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Println(tok)
		log.WithField("expires_at", exp).Info("token issued")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()
	if opts.Migrate {
		log.Info("migrations applied")
		return nil
	}

	src, err := item.ParseSource(opts.Source)
	if err != nil {
		return err
	}
	store, err := repository.NewStatusStore(db)
	if err != nil {
		return err
	}

	if opts.Stats {
		st, err := store.Stats(ctx, src)
		if err != nil {
			return err
		}
		fields := logrus.Fields{"source": src, "total": st.Total, "ccu_records": st.CCURecords, "price_records": st.PriceRecords}
		for state, n := range st.Counts {
			fields[string(state)] = n
		}
		log.WithFields(fields).Info("statistics")
		return nil
	}

	var ids []int64
	if opts.RetryErrors {
		ids, err = store.RetryErrors(ctx, src)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			log.WithField("source", src).Info("no items in error state")
			return nil
		}
	} else {
		file := opts.File
		if file == "" {
			file = cfg.Paths.AppIDsFile
		}
		ids, err = pipeline.LoadIDs(file)
		if err != nil {
			return err
		}
	}

	plan, release, err := app.NewPlanBuilder(cfg, store, log).Build(ctx, src)
	if err != nil {
		return err
	}
	if release != nil {
		defer release()
	}

	orch := pipeline.NewOrchestrator(store, pipeline.NewCheckpointWriter(cfg.Paths.CheckpointDir), nil, log)
	summary, err := orch.Run(ctx, plan, ids)
	if err != nil {
		return err
	}
	if summary.Cancelled {
		log.WithField("run_id", summary.RunID).Warn("run interrupted, restart to resume")
	}
	return nil
}

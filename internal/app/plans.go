package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/progprogect/steamids-parser/internal/browser"
	"github.com/progprogect/steamids-parser/internal/config"
	"github.com/progprogect/steamids-parser/internal/domain/item"
	"github.com/progprogect/steamids-parser/internal/pipeline"
	"github.com/progprogect/steamids-parser/internal/pkg/logging"
	"github.com/progprogect/steamids-parser/internal/repository"
	"github.com/progprogect/steamids-parser/internal/scraper"
)

var ErrMissingAPIKey = errors.New("ITAD_API_KEY is not set")

type currencyStore interface {
	Get(ctx context.Context, src item.Source, itemID int64) (item.Status, error)
	SetCurrencies(ctx context.Context, src item.Source, itemID int64, currencies []string) error
}

// PlanBuilder turns configuration into the fetchers of one run. A browser
// pool is only launched for the SteamDB CCU backend and is shut down by the
// release func.
type PlanBuilder struct {
	cfg      config.Config
	store    currencyStore
	launcher browser.Launcher
	log      logrus.FieldLogger
}

func NewPlanBuilder(cfg config.Config, store repository.StatusStore, log logrus.FieldLogger) *PlanBuilder {
	log = logging.OrStandard(log)
	return &PlanBuilder{
		cfg:      cfg,
		store:    store,
		launcher: browser.ChromeLauncher{Log: log},
		log:      log,
	}
}

func (b *PlanBuilder) Build(ctx context.Context, src item.Source) (pipeline.Plan, func(), error) {
	switch src {
	case item.SourceITAD:
		f, err := b.itad()
		if err != nil {
			return pipeline.Plan{}, nil, err
		}
		return pipeline.Plan{Source: src, Primary: f, BatchSize: b.cfg.Sources.ITADBatchSize}, nil, nil

	case item.SourceSteamPrice:
		return pipeline.Plan{Source: src, Primary: b.steamStore(), BatchSize: b.cfg.Sources.SteamStoreBatchSize}, nil, nil

	case item.SourceCCU:
		return b.ccu(ctx)

	default:
		return pipeline.Plan{}, nil, fmt.Errorf("%w: %q", item.ErrUnknownSource, src)
	}
}

func (b *PlanBuilder) ccu(ctx context.Context) (pipeline.Plan, func(), error) {
	s := b.cfg.Sources
	plan := pipeline.Plan{Source: item.SourceCCU}
	if s.CCUWithPrices {
		plan.Price = b.steamStore()
	}

	if s.CCUBackend != config.CCUBackendSteamDB {
		plan.Primary = scraper.NewSteamChartsFetcher(scraper.SteamChartsConfig{
			RPS:          s.SteamChartsRPS,
			Retries:      s.SteamChartsRetries,
			RetryDelay:   s.SteamChartsRetryDelay,
			Timeout:      b.cfg.Browser.RequestTimeout,
			UserAgent:    b.cfg.Browser.UserAgent,
			PeakFallback: true,
		}, b.log)
		plan.BatchSize = s.SteamChartsBatchSize
		return plan, nil, nil
	}

	br := b.cfg.Browser
	pool := browser.NewPool(b.launcher, browser.Options{
		ExecPath:    br.ExecPath,
		Headless:    br.Headless,
		UserAgent:   br.UserAgent,
		PoolSize:    br.PoolSize,
		BlockImages: br.BlockImages,
		BlockCSS:    br.BlockCSS,
		BlockFonts:  br.BlockFonts,
	}, browser.NewCookieJar(b.cfg.Paths.CookiesFile), b.log)
	if err := pool.Initialize(ctx); err != nil {
		return pipeline.Plan{}, nil, fmt.Errorf("browser pool: %w", err)
	}
	release := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = pool.Shutdown(sctx)
	}

	plan.Primary = scraper.NewSteamDBCompareFetcher(pool, scraper.SteamDBCompareConfig{
		ChallengeWait: br.ChallengeWait,
		ResponseWait:  br.RequestTimeout,
	}, b.log)
	plan.BatchSize = s.CompareBatchSize
	return plan, release, nil
}

func (b *PlanBuilder) itad() (*scraper.ITADFetcher, error) {
	s := b.cfg.Sources
	if s.ITADAPIKey == "" {
		return nil, ErrMissingAPIKey
	}
	client := scraper.NewITADClient(scraper.ITADClientConfig{
		APIKey: s.ITADAPIKey,
		RPS:    s.ITADRPS,
	}, b.log)
	return scraper.NewITADFetcher(client, scraper.ITADFetcherConfig{
		Workers:   s.ITADWorkers,
		Since:     s.ITADSince,
		Known:     b.knownCurrencies,
		Confirmed: b.confirmCurrencies,
	}, b.log), nil
}

func (b *PlanBuilder) knownCurrencies(ctx context.Context, itemID int64) []string {
	st, err := b.store.Get(ctx, item.SourceITAD, itemID)
	if err != nil {
		return nil
	}
	return st.Currencies
}

func (b *PlanBuilder) confirmCurrencies(ctx context.Context, itemID int64, codes []string) error {
	return b.store.SetCurrencies(ctx, item.SourceITAD, itemID, codes)
}

func (b *PlanBuilder) steamStore() *scraper.SteamStoreFetcher {
	s := b.cfg.Sources
	return scraper.NewSteamStoreFetcher(scraper.SteamStoreConfig{
		RPS:        s.SteamStoreRPS,
		Workers:    s.SteamStoreWorkers,
		Timeout:    s.SteamStoreTimeout,
		Retries:    s.SteamStoreRetries,
		RetryDelay: s.SteamStoreRetryWait,
	}, b.log)
}

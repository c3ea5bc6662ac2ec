package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/icloud-go/internal/config"
	"github.com/tonimelisma/icloud-go/internal/download"
	"github.com/tonimelisma/icloud-go/internal/icloud"
	"github.com/tonimelisma/icloud-go/internal/ledger"
	"github.com/tonimelisma/icloud-go/internal/naming"
	"github.com/tonimelisma/icloud-go/internal/password"
	"github.com/tonimelisma/icloud-go/internal/photos"
	"github.com/tonimelisma/icloud-go/internal/session"
	"github.com/tonimelisma/icloud-go/internal/syncer"
	"github.com/tonimelisma/icloud-go/internal/webui"
)

// run is the root command body: authenticate, then either list, exit after
// auth, run one pass, or enter the watch loop.
func run(ctx context.Context) error {
	logger := buildLogger()
	ctx = shutdownContext(ctx, logger)

	store, err := session.NewStore(cfg.CookieDirectory, cfg.Username, logger)
	if err != nil {
		return err
	}

	endpoints, err := icloud.EndpointsForDomain(cfg.Domain)
	if err != nil {
		return err
	}

	client := icloud.NewClient(endpoints, store, cfg.ClientID, logger)

	chain := password.NewChain(password.Options{
		Parameter:      cfg.Password,
		Account:        cfg.Username,
		UseKeyring:     cfg.UseKeyring,
		NonInteractive: cfg.WatchInterval > 0,
	}, logger)

	exchange := syncer.NewStatusExchange()

	progress := syncer.NewProgress(logger)
	if cfg.ForceProgress {
		progress.ForceBar()
	}

	var prompt icloud.MFAPrompt = newConsolePrompt(logger)
	if cfg.WatchInterval > 0 || cfg.WebUIAddr != "" {
		prompt = newExchangePrompt(exchange, logger)
	}

	// Remember what authenticated so it can be written back to the keyring.
	var usedPassword string
	passwordFunc := func(ctx context.Context) (string, error) {
		secret, err := chain.Password(ctx)
		if err != nil {
			return "", err
		}

		usedPassword = secret

		return secret, nil
	}

	auth := icloud.NewAuthenticator(client, cfg.Username, passwordFunc, prompt, logger)

	reauth := func(ctx context.Context) error {
		_, err := auth.Authenticate(ctx, true)
		return err
	}
	client.SetReauth(reauth)

	info, err := auth.Authenticate(ctx, false)
	if err != nil {
		return err
	}

	exchange.CodeChecked(true, "")
	chain.Confirmed(usedPassword)

	logger.Info("authenticated",
		slog.String("account", info.DsInfo.AppleID),
	)

	if flags.authOnly {
		statusf("Authenticated as %s\n", info.DsInfo.AppleID)
		return nil
	}

	serviceRoot, err := info.WebserviceURL("ckdatabasews")
	if err != nil {
		return err
	}

	service := photos.NewService(client, serviceRoot, info.DsInfo.Dsid, logger)

	if flags.listLibraries {
		return listLibraries(ctx, service)
	}

	if flags.listAlbums {
		return listAlbums(ctx, service)
	}

	driver, store2, err := buildDriver(service, reauth, progress, logger)
	if err != nil {
		return err
	}

	if store2 != nil {
		defer store2.Close()
	}

	runPass := func(ctx context.Context, syncAll bool) error {
		stats, err := driver.Run(ctx, syncAll)
		if err == nil {
			logger.Info("sync pass finished", slog.String("summary", summaryLine(stats)))
		}

		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	syncCtx, syncDone := context.WithCancel(gctx)

	g.Go(func() error {
		defer syncDone()

		if cfg.WatchInterval > 0 {
			var notifier syncer.Notifier
			if cfg.NotificationScript != "" {
				notifier = syncer.NewScriptNotifier(cfg.NotificationScript, logger)
			}

			loop := syncer.NewWatchLoop(
				time.Duration(cfg.WatchInterval)*time.Second,
				runPass, exchange, progress, notifier, logger,
			)

			return loop.Run(syncCtx)
		}

		return runPass(syncCtx, false)
	})

	if cfg.WebUIAddr != "" {
		g.Go(func() error {
			return webui.New(exchange, progress, logger).Serve(syncCtx, cfg.WebUIAddr)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	return nil
}

// buildDriver assembles the pass driver from the resolved configuration.
func buildDriver(
	service *photos.Service,
	reauth syncer.ReauthFunc,
	progress *syncer.Progress,
	logger *slog.Logger,
) (*syncer.Driver, *ledger.Store, error) {
	opts, err := driverOptions()
	if err != nil {
		return nil, nil, err
	}

	deps := syncer.Deps{
		Reauth:   reauth,
		Progress: progress,
		Logger:   logger,
	}

	var store *ledger.Store

	if !cfg.NoLedger && !cfg.DryRun {
		store, err = ledger.Open(cfg.LedgerPath(), logger)
		if err != nil {
			// The ledger is a fast path; a broken cache never blocks a sync.
			logger.Warn("could not open incremental ledger, continuing without",
				slog.String("error", err.Error()),
			)
		} else {
			deps.Ledger = store
		}
	}

	limiter := download.NewLimiter(cfg.Throttle, logger)
	downloader := download.New(limiter, logger)

	return syncer.NewDriver(opts, service, downloader, deps), store, nil
}

// driverOptions converts validated configuration into driver options.
func driverOptions() (syncer.Options, error) {
	var opts syncer.Options

	sizes := make([]photos.VersionSize, 0, len(cfg.Sizes))

	for _, s := range cfg.Sizes {
		size, err := photos.ParseVersionSize(s)
		if err != nil {
			return opts, err
		}

		sizes = append(sizes, size)
	}

	liveSize, err := photos.ParseLivePhotoSize(cfg.LivePhotoSize)
	if err != nil {
		return opts, err
	}

	livePolicy, err := naming.ParseLivePhotoPolicy(cfg.LivePhotoPolicy)
	if err != nil {
		return opts, err
	}

	rawPolicy, err := photos.ParseRawPolicy(cfg.AlignRaw)
	if err != nil {
		return opts, err
	}

	matchPolicy, err := naming.ParseFileMatchPolicy(cfg.FileMatchPolicy)
	if err != nil {
		return opts, err
	}

	before, err := config.ParseDate(cfg.SkipBefore)
	if err != nil {
		return opts, err
	}

	after, err := config.ParseDate(cfg.SkipAfter)
	if err != nil {
		return opts, err
	}

	return syncer.Options{
		Account:             cfg.Username,
		Directory:           cfg.Directory,
		Library:             cfg.Library,
		Album:               cfg.Album,
		Sizes:               sizes,
		ForceSize:           cfg.ForceSize,
		LivePhotoSize:       liveSize,
		LivePhotoName:       livePolicy,
		RawPolicy:           rawPolicy,
		SkipVideos:          cfg.SkipVideos,
		SkipPhotos:          cfg.SkipPhotos,
		SkipLivePhotos:      cfg.SkipLivePhotos,
		Recent:              cfg.Recent,
		UntilFound:          cfg.UntilFound,
		SkipCreatedBefore:   before,
		SkipCreatedAfter:    after,
		FolderTemplate:      cfg.FolderStructure,
		FileMatchPolicy:     matchPolicy,
		KeepUnicode:         cfg.KeepUnicode,
		DeleteAfterDownload: cfg.DeleteAfterDownload,
		AutoDelete:          cfg.AutoDelete,
		KeepRecentDays:      cfg.KeepRecentDays,
		OnlyPrintFilenames:  cfg.OnlyPrintFilenames,
		SetExifDatetime:     cfg.SetExifDatetime,
		DryRun:              cfg.DryRun,
	}, nil
}

func listLibraries(ctx context.Context, service *photos.Service) error {
	libraries, err := service.Libraries(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(libraries))
	for name := range libraries {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		fmt.Println(name)
	}

	return nil
}

func listAlbums(ctx context.Context, service *photos.Service) error {
	library, err := service.Library(ctx, cfg.Library)
	if err != nil {
		return err
	}

	names, err := library.AlbumNames(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		fmt.Println(name)
	}

	return nil
}

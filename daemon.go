package main

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mobilemkch/mkchd/internal/cache"
	"github.com/mobilemkch/mkchd/internal/config"
	"github.com/mobilemkch/mkchd/internal/fetch"
	"github.com/mobilemkch/mkchd/internal/imageboard"
	"github.com/mobilemkch/mkchd/internal/reachability"
	"github.com/mobilemkch/mkchd/internal/server"
	"github.com/mobilemkch/mkchd/internal/server/routes"
	"github.com/mobilemkch/mkchd/internal/settings"
)

// daemon 持有进程内唯一的一组运行时组件，由 main 显式构造并注入。
type daemon struct {
	cfg     *config.Config
	logger  *logrus.Logger
	app     *fiber.App
	cache   *cache.Cache
	monitor *reachability.Monitor
	probe   reachability.PathProbe
}

func newDaemon(cfg *config.Config, logger *logrus.Logger) (*daemon, error) {
	prefs, err := settings.OpenPreferences(cfg.PreferencesPath())
	if err != nil {
		return nil, fmt.Errorf("打开偏好存储失败: %w", err)
	}
	monitor := reachability.NewMonitor(prefs, logger)

	probe, err := reachability.NewDialProbe(cfg.Upstream.BaseURL, cfg.Global.ProbeTimeout.DurationValue())
	if err != nil {
		return nil, fmt.Errorf("构建可达性探测失败: %w", err)
	}

	store, err := cache.NewStore(cfg.CacheDir())
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}
	responseCache := cache.New(store, cache.Options{
		Logger:        logger,
		SweepInterval: cfg.Global.SweepInterval.DurationValue(),
	})

	client := imageboard.New(server.NewUpstreamClient(cfg, logger), imageboard.Options{
		BaseURL:   cfg.Upstream.BaseURL,
		APIURL:    cfg.Upstream.APIURL,
		UserAgent: cfg.Upstream.UserAgent,
		Logger:    logger,
	})

	orch := fetch.New(fetch.Options{
		Upstream: client,
		Cache:    responseCache,
		Offline:  monitor,
		Seen:     prefs,
		TTL:      cfg.TTL,
		Logger:   logger,
	})

	app, err := server.NewApp(server.AppOptions{
		Logger:       logger,
		Orchestrator: orch,
		Auth:         client,
		Settings:     settings.NewManager(prefs),
		BaseURL:      client.BaseURL(),
		ListenPort:   cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnosticsRoutes(app, routes.Diagnostics{
		Logger:       logger,
		Monitor:      monitor,
		Cache:        responseCache,
		Orchestrator: orch,
	})

	return &daemon{
		cfg:     cfg,
		logger:  logger,
		app:     app,
		cache:   responseCache,
		monitor: monitor,
		probe:   probe,
	}, nil
}

// startBackground 启动可达性探测与周期性缓存清理，二者随 ctx 结束。
func (d *daemon) startBackground(ctx context.Context) {
	go d.monitor.Watch(ctx, d.probe, d.cfg.Global.ProbeInterval.DurationValue())
	go d.cache.Run(ctx)
}

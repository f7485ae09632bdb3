package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/static-hub/internal/buffercache"
	"github.com/any-hub/static-hub/internal/config"
	"github.com/any-hub/static-hub/internal/logging"
	"github.com/any-hub/static-hub/internal/metrics"
	"github.com/any-hub/static-hub/internal/server"
	"github.com/any-hub/static-hub/internal/server/routes"
	"github.com/any-hub/static-hub/internal/static"
	"github.com/any-hub/static-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["mounts"] = config.MountNames(cfg.Mounts)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	collector, err := metrics.NewCollector("static_hub")
	if err != nil {
		fmt.Fprintf(stdErr, "初始化指标失败: %v\n", err)
		return 1
	}

	// 启动顺序为 配置 → 数据缓存 → 挂载注册表 → Fiber server，
	// 全部挂载共享同一个数据缓存与指标收集器。
	dataCache, err := buffercache.New(buffercache.Options{
		Capacity:    cfg.Global.BufferCacheCapacity,
		SegmentSize: cfg.Global.BufferSegmentSize,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化数据缓存失败: %v\n", err)
		return 1
	}

	registry, err := server.BuildMounts(cfg, server.MountDeps{
		Logger:    logger,
		DataCache: dataCache,
		Metrics:   collector,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建挂载注册表失败: %v\n", err)
		return 1
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.WithError(err).WithField("action", "shutdown").Warn("挂载关闭失败")
		}
	}()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["mounts"] = config.MountNames(cfg.Mounts)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["buffer_cache_capacity"] = cfg.Global.BufferCacheCapacity
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, registry, dataCache, collector, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("static-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 STATIC_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("STATIC_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, registry *server.MountRegistry, dataCache *buffercache.Cache, collector *metrics.Collector, logger *logrus.Logger) error {
	app, err := server.NewApp(server.AppOptions{
		Logger:   logger,
		Registry: registry,
		Handler:  static.NewHandler(logger),
	})
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, registry, dataCache)
	routes.RegisterMetricsRoute(app, collector)
	if cfg.Global.EnableCacheInvalidation {
		routes.RegisterInvalidateRoute(app, registry, logger)
		logger.WithField("action", "startup").Warn("未鉴权的缓存失效接口已开启")
	}

	go shutdownOnSignal(app, logger)

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

// shutdownOnSignal 收到 SIGINT/SIGTERM 后停止接收请求，使 run 能够关闭挂载的监听器。
func shutdownOnSignal(app *fiber.App, logger *logrus.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	sig := <-signals
	signal.Stop(signals)

	logger.WithFields(logrus.Fields{
		"action": "shutdown",
		"signal": sig.String(),
	}).Info("收到退出信号")
	if err := app.Shutdown(); err != nil {
		logger.WithError(err).WithField("action", "shutdown").Warn("Fiber 关闭失败")
	}
}

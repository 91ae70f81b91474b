package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/folio-edge/folio-edge/internal/cache"
	"github.com/folio-edge/folio-edge/internal/config"
	"github.com/folio-edge/folio-edge/internal/logging"
	"github.com/folio-edge/folio-edge/internal/proxy"
	"github.com/folio-edge/folio-edge/internal/relay"
	"github.com/folio-edge/folio-edge/internal/server"
	"github.com/folio-edge/folio-edge/internal/server/routes"
	"github.com/folio-edge/folio-edge/internal/version"
	"github.com/folio-edge/folio-edge/internal/worker"
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
		fields["origin"] = cfg.Worker.Origin
		fields["cache_name"] = cfg.Worker.CacheName
		fields["storage_driver"] = cfg.Global.StorageDriver
		fields["relay"] = cfg.RelayMode()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 日志 → 缓存存储 → 回源 client → 注册首个 worker（安装+激活）→ Fiber。
	// 首个 worker 安装失败时仍然启动，所有请求直连源站，等待 `/-/sw/update` 重试。
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	edge, err := buildEdge(ctx, opts.configPath, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer edge.storage.Close()
	go edge.registration.RunJanitor(ctx)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["origin"] = cfg.Worker.Origin
	fields["cache_name"] = cfg.Worker.CacheName
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["relay"] = cfg.RelayMode()
	fields["control_token"] = cfg.Global.ControlToken != ""
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(edge.app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("folio-edge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 FOLIO_EDGE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("FOLIO_EDGE_CONFIG")
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

// edge 汇总一次启动构建出的运行时组件。
type edge struct {
	app          *fiber.App
	registration *worker.Registration
	storage      cache.Storage
}

func buildEdge(ctx context.Context, configPath string, cfg *config.Config, logger *logrus.Logger) (*edge, error) {
	storage, err := cache.NewStorage(cfg.Global.StorageDriver, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	upstream := proxy.NewUpstream(server.NewUpstreamClient(cfg))
	registration := worker.NewRegistration(logger)
	registration.SetClientIdleTimeout(cfg.Worker.ClientIdleTimeout.DurationValue())

	newWorker := func(c *config.Config) (*worker.Worker, error) {
		wc, err := server.WorkerConfig(c)
		if err != nil {
			return nil, err
		}
		return worker.New(worker.Options{
			Config:  wc,
			Storage: storage,
			Network: upstream,
			Logger:  logger,
		})
	}

	first, err := newWorker(cfg)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}
	if err := registration.Register(ctx, first); err != nil {
		fields := logging.WorkerFields(first.ID(), first.CacheName(), "install")
		logger.WithFields(fields).WithError(err).Warn("initial_install_failed")
	}

	handler := proxy.NewHandler(registration, upstream, first.Config().Origin, logger)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Clients:    registration,
		Proxy:      handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	routes.RegisterWorkerRoutes(app, routes.WorkerRoutes{
		Registration: registration,
		Storage:      storage,
		Logger:       logger,
		ControlToken: cfg.Global.ControlToken,
		Reload: func(ctx context.Context) (*worker.Worker, error) {
			next, err := config.Load(configPath)
			if err != nil {
				return nil, err
			}
			return newWorker(next)
		},
	})
	routes.RegisterRelayRoutes(app, relay.NewMailer(cfg.Relay, logger, nil))

	return &edge{app: app, registration: registration, storage: storage}, nil
}

func startHTTPServer(app *fiber.App, port int, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

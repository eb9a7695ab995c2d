// Package main 提供 gamenet 命令行入口
//
// 以服务器或客户端角色运行一个节点，按固定帧率推进主循环，
// 并在 /metrics 暴露 Prometheus 指标。内置一个 Echo 过程用于联调：
// 客户端每秒调用服务器的 Echo，服务器把负载回送给调用者。
//
// 使用方法:
//
//	# 服务器
//	go run ./cmd/gamenet -role server -listen 0.0.0.0:7777
//
//	# 客户端（直连）
//	go run ./cmd/gamenet -listen 0.0.0.0:0 -connect 127.0.0.1:7777
//
//	# 客户端（直连 + 中继）
//	go run ./cmd/gamenet -listen 0.0.0.0:0 -connect 127.0.0.1:7777 \
//	    -relay ws://127.0.0.1:9000/ -connect-identity <server-identity>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-gamenet"
	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/pkg/lib/log"
	"github.com/dep2p/go-gamenet/pkg/types"
)

var logger = log.Logger("gamenet/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖（「这次运行」想怎么跑）
//   JSON 配置文件：持久化配置（「这个节点」的固定配置）
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	configFile = flag.String("config", "", "配置文件路径")
	role       = flag.String("role", "", "角色 (server/client)，覆盖配置文件")
	listen     = flag.String("listen", "", "直连监听地址，覆盖配置文件")
	relayURL   = flag.String("relay", "", "中继代理地址 (ws://host:port/)")
	identity   = flag.String("identity", "", "本地平台身份（为空时自动生成）")

	connectAddr     = flag.String("connect", "", "服务器直连地址 ip:port（客户端）")
	connectIdentity = flag.String("connect-identity", "", "服务器平台身份（客户端，中继）")
	serverNAT       = flag.String("server-nat", "", "服务器 NAT 分类 (open/moderate/strict/blocked)")

	tickRate    = flag.Int("tick-rate", 60, "主循环帧率 (Hz)")
	metricsAddr = flag.String("metrics", ":9100", "Prometheus 指标监听地址（空 = 关闭）")
	logFile     = flag.String("log", "", "日志文件路径")
	fxDebug     = flag.Bool("fx-debug", false, "输出依赖注入日志")

	showVersion = flag.Bool("version", false, "显示版本信息")
)

// echoProc 联调用的过程名
const echoProc = "Echo"

func main() {
	if err := run(); err != nil {
		fmt.Printf("❌ 错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(gamenet.VersionInfo())
		return nil
	}
	if *tickRate <= 0 {
		return errors.New("tick-rate must be positive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []gamenet.Option{gamenet.WithConfig(cfg)}
	if *listen != "" {
		opts = append(opts, gamenet.WithListenAddr(*listen))
	}
	if *relayURL != "" {
		opts = append(opts, gamenet.WithRelay(*relayURL))
	}
	if *identity != "" {
		opts = append(opts, gamenet.WithIdentity(*identity))
	}
	if *fxDebug {
		opts = append(opts, gamenet.WithFxDebug())
	}

	node, err := gamenet.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("创建节点失败: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			fmt.Printf("关闭时出现错误: %v\n", err)
		}
	}()

	if err := registerProcedures(node); err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("启动节点失败: %w", err)
	}
	printNodeInfo(node)

	if node.Role() == types.RoleClient && (*connectAddr != "" || *connectIdentity != "") {
		peer := gamenet.PeerInfo{
			Addr:     *connectAddr,
			Identity: *connectIdentity,
			NAT:      types.ParseNATType(*serverNAT),
			Server:   true,
		}
		if err := node.Connect(ctx, peer); err != nil {
			return fmt.Errorf("连接服务器失败: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tickLoop(gctx, node) })
	if *metricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, node, *metricsAddr) })
	}
	if node.Role() == types.RoleClient {
		g.Go(func() error { return echoLoop(gctx, node) })
	}

	err = g.Wait()
	fmt.Println("\n正在关闭节点...")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("再见! 👋")
	return nil
}

// loadConfig 加载配置文件并应用命令行覆盖
func loadConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}
	if *role != "" {
		cfg.Role = *role
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	return cfg, nil
}

// registerProcedures 注册联调过程，所有节点注册顺序一致
func registerProcedures(node *gamenet.Node) error {
	_, err := node.Handle(echoProc, func(call *gamenet.CallContext, payload []byte) {
		if node.Role() != types.RoleServer {
			logger.Info("收到回显", "from", call.Sender, "bytes", len(payload))
			return
		}
		if call.IsLocal() {
			return
		}
		echo := append([]byte(nil), payload...)
		if err := node.Call(echoProc, types.TargetClient, call.SenderID, func(buf []byte) []byte {
			return append(buf, echo...)
		}); err != nil {
			logger.Warn("回显失败", "to", call.Sender, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("注册过程失败: %w", err)
	}
	node.Seal()
	return nil
}

// tickLoop 按固定帧率推进节点
func tickLoop(ctx context.Context, node *gamenet.Node) error {
	ticker := time.NewTicker(time.Second / time.Duration(*tickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			node.Tick()
		}
	}
}

// echoLoop 客户端每秒调用一次服务器的 Echo
func echoLoop(ctx context.Context, node *gamenet.Node) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var n uint32
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, ok := node.Server(); !ok {
			continue
		}
		n++
		msg := fmt.Sprintf("echo #%d", n)
		if err := node.Call(echoProc, types.TargetServer, 0, func(buf []byte) []byte {
			return append(buf, msg...)
		}, gamenet.Reliable()); err != nil {
			logger.Warn("调用失败", "error", err)
		}
	}
}

// serveMetrics 暴露 Prometheus 指标，ctx 结束时关闭
func serveMetrics(ctx context.Context, node *gamenet.Node, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(node.MetricsRegistry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("指标服务异常: %w", err)
	}
	return ctx.Err()
}

// printNodeInfo 打印节点信息
func printNodeInfo(node *gamenet.Node) {
	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║                  gamenet Node                        ║")
	fmt.Println("╠══════════════════════════════════════════════════════╣")
	fmt.Printf("║ 版本: %s\n", gamenet.VersionInfo())
	fmt.Printf("║ 角色: %s\n", node.Role())
	for kind, addr := range node.LocalAddrs() {
		fmt.Printf("║ %s: %s\n", kind, addr)
	}
	if *metricsAddr != "" {
		fmt.Printf("║ 指标: http://%s/metrics\n", *metricsAddr)
	}
	fmt.Println("╚══════════════════════════════════════════════════════╝")
	fmt.Println("按 Ctrl+C 停止")
}

// Package main 提供独立的中继代理
//
// 中继代理模拟游戏平台的中继服务，帮助无法直连的节点互相通信。
// 节点以平台身份登记，按身份配对后由代理转发数据帧。
//
// 使用方法:
//
//	go run ./cmd/relay-server -listen :9000 -bandwidth 65536
//
// 客户端配置:
//
//	{"transport": {"enable_relay": true, "relay_url": "ws://host:9000/"}}
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dep2p/go-gamenet/internal/core/relay"
	"github.com/dep2p/go-gamenet/internal/core/relay/server"
	"github.com/dep2p/go-gamenet/pkg/lib/log"
)

func main() {
	if err := run(); err != nil {
		fmt.Printf("❌ 错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 解析命令行参数
	listen := flag.String("listen", ":9000", "监听地址")
	bandwidth := flag.Int("bandwidth", 0, "单客户端带宽上限（字节/秒，0 = 不限制）")
	maxClients := flag.Int("max-clients", 0, "最大客户端数（0 = 不限制）")
	constraint := flag.String("versions", relay.DefaultVersionConstraint, "接受的协议版本范围")
	logFile := flag.String("log-file", "", "日志文件路径")
	flag.Parse()

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║            gamenet Relay Broker                      ║")
	fmt.Println("╚══════════════════════════════════════════════════════╝")
	fmt.Println()

	cfg := server.DefaultConfig()
	cfg.BytesPerSecond = *bandwidth
	cfg.MaxClients = *maxClients
	cfg.VersionConstraint = *constraint

	broker, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("创建中继代理失败: %w", err)
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获中断信号
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		fmt.Printf("\n收到信号 %v，正在关闭...\n", sig)
		cancel()
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- broker.Serve(ln) }()

	printServerInfo(ln.Addr().String(), cfg)
	go reportStats(ctx, broker)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("中继代理异常退出: %w", err)
		}
	}

	fmt.Println("\n正在关闭中继代理...")
	if err := broker.Close(); err != nil {
		fmt.Printf("关闭时出现错误: %v\n", err)
	}
	fmt.Println("再见! 👋")
	return nil
}

// printServerInfo 打印服务器信息
func printServerInfo(addr string, cfg server.Config) {
	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║                    服务器信息                         ║")
	fmt.Println("╠══════════════════════════════════════════════════════╣")
	fmt.Printf("║ 监听地址: ws://%s/\n", addr)
	fmt.Printf("║ 协议版本: %s (接受 %s)\n", relay.ProtocolVersion, cfg.VersionConstraint)
	if cfg.BytesPerSecond > 0 {
		fmt.Printf("║ 单客户端带宽: %d B/s\n", cfg.BytesPerSecond)
	}
	if cfg.MaxClients > 0 {
		fmt.Printf("║ 最大客户端数: %d\n", cfg.MaxClients)
	}
	fmt.Println("╚══════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("中继代理已启动，等待客户端连接...")
	fmt.Println("按 Ctrl+C 停止服务器")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// reportStats 定期报告统计信息
func reportStats(ctx context.Context, broker *server.Server) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := broker.Stats()
			fmt.Printf("[Stats] 客户端: %d, 配对: %d, 转发: %d, 丢弃: %d\n",
				st.Clients, st.Pairs, st.FramesForwarded, st.FramesDropped)
		}
	}
}

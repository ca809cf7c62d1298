package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	ocr "github.com/getcharzp/receipt-ocr"
	"github.com/getcharzp/receipt-ocr/config"
	"github.com/getcharzp/receipt-ocr/detector"
	"github.com/getcharzp/receipt-ocr/internal/telemetry"
	"github.com/getcharzp/receipt-ocr/latency"
	"github.com/getcharzp/receipt-ocr/queue"
	"github.com/getcharzp/receipt-ocr/server"
	"github.com/joho/godotenv"
	"github.com/up-zero/gotool/imageutil"
)

var (
	_ server.Recognizer = (*ocr.Engine)(nil)
	_ queue.Recognizer  = (*ocr.Engine)(nil)
)

const usage = `Usage: receipt-ocr [-config file.yaml] <command> [args]

Commands:
  serve               HTTP 服务 (默认)
  worker              Redis 队列消费者
  scan [-boxes out.jpg] <image>
                      识别单张图片并输出文本
  latency             输出延迟统计
  reset               清空延迟日志
`

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "receipt-ocr: 加载 .env 失败: %v\n", err)
	}

	flags := flag.NewFlagSet("receipt-ocr", flag.ExitOnError)
	configPath := flags.String("config", "", "YAML 配置文件")
	flags.Usage = func() { fmt.Fprint(flags.Output(), usage) }
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "receipt-ocr: %v\n", err)
		os.Exit(2)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := "serve"
	args := flags.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	if err := run(ctx, cfg, logger, command, args); err != nil {
		logger.Error("运行失败", "command", command, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, command string, args []string) error {
	switch command {
	case "latency":
		return printJSON(latency.NewRecorder(cfg.Latency.Path).Summarize())
	case "reset":
		return latency.NewRecorder(cfg.Latency.Path).Reset()
	case "serve", "worker", "scan":
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("未知命令: %s", command)
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, 10*time.Second)
		if err != nil {
			return fmt.Errorf("初始化指标导出失败: %w", err)
		}
		defer shutdown(context.Background())
	}

	engine, err := ocr.NewEngine(cfg.Engine(logger))
	if err != nil {
		return fmt.Errorf("创建 OCR 引擎失败: %w", err)
	}
	defer engine.Destroy()

	switch command {
	case "worker":
		return runWorker(ctx, cfg, logger, engine)
	case "scan":
		return runScan(ctx, engine, args)
	default:
		srv := server.New(engine, cfg.NewStructurer(), server.WithLogger(logger))
		return srv.ListenAndServe(ctx, cfg.Address)
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, engine *ocr.Engine) error {
	w, err := queue.NewWorker(ctx, engine, queue.Config{
		RedisURL:    cfg.Queue.RedisURL,
		JobsKey:     cfg.Queue.JobsKey,
		ResultsKey:  cfg.Queue.ResultsKey,
		Concurrency: cfg.Queue.Concurrency,

		DrainTimeout: cfg.Queue.DrainTimeout,
	}, queue.WithLogger(logger))
	if err != nil {
		return err
	}

	w.Start(ctx)
	<-ctx.Done()
	return w.Stop()
}

func runScan(ctx context.Context, engine *ocr.Engine, args []string) error {
	flags := flag.NewFlagSet("scan", flag.ExitOnError)
	boxesPath := flags.String("boxes", "", "输出带文本框的图片")
	_ = flags.Parse(args)

	if flags.NArg() != 1 {
		return fmt.Errorf("缺少图片路径")
	}

	img, err := imaging.Open(flags.Arg(0), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("加载图像失败: %w", err)
	}

	start := time.Now()
	result, err := engine.Run(ctx, img)
	if err != nil {
		return err
	}
	slog.Info("识别完成", "lines", len(result.Lines), "dropped", result.Dropped, "duration", time.Since(start))

	if *boxesPath != "" {
		boxes := make([]detector.BoundingBox, len(result.Lines))
		for i, l := range result.Lines {
			boxes[i] = l.Box
		}
		if err := imageutil.Save(*boxesPath, ocr.DrawBoxes(img, boxes), 100); err != nil {
			return fmt.Errorf("保存图像失败: %w", err)
		}
	}

	fmt.Println(result.Text())
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

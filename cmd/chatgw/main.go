package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/application"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/extractor"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/logger"
)

const (
	cliVersion = "0.1.0"
	cliName    = "chatgw"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          cliName,
		Short:        "Chat gateway with streaming Gemini answers",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 网关",
		RunE:  runServe,
	})

	extractCmd := &cobra.Command{
		Use:   "extract <file>...",
		Short: "提取附件内容并打印",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExtract,
	}
	extractCmd.Flags().Int("max-chars", 2000, "每个文件最多打印的字符数 (0 不限制)")
	rootCmd.AddCommand(extractCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "models",
		Short: "列出启用的 AI 模型",
		RunE:  runModels,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "在 ~/." + config.AppName + " 写入默认配置",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Bootstrap(config.HomeDir(), zap.NewNop())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// quietLogger only reports errors, on stderr.
func quietLogger() (*zap.Logger, error) {
	log, _, err := logger.NewLogger(logger.Config{
		Level:      "error",
		Format:     "console",
		OutputPath: "stderr",
	})
	return log, err
}

// ─── Gateway Server Mode ───

func runServe(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, level, err := logger.NewLogger(logger.Config{
		Level:      loaded.Log.Level,
		Format:     loaded.Log.Format,
		OutputPath: loaded.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("Starting chat gateway", zap.String("version", cliVersion))

	app, err := application.NewApp(loaded, log, level)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	log.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return app.Stop(shutdownCtx)
}

// ─── Attachment extraction ───

func runExtract(cmd *cobra.Command, args []string) error {
	log, err := quietLogger()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	maxChars, _ := cmd.Flags().GetInt("max-chars")
	ex := extractor.New(log)
	out := cmd.OutOrStdout()

	failed := 0
	for _, path := range args {
		name := filepath.Base(path)
		if !ex.IsSupported(name) {
			fmt.Fprintf(out, "== %s: unsupported, skipped\n\n", name)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		file, err := ex.Extract(cmd.Context(), entity.Upload{Filename: name, Data: data})
		if err != nil {
			failed++
			fmt.Fprintf(out, "== %s: %v\n\n", name, err)
			continue
		}
		fmt.Fprintf(out, "== %s (%s)\n%s\n\n", name, describe(file), truncate(file.Content, maxChars))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}

func describe(f entity.ExtractedFile) string {
	if f.IsImage() {
		return f.MIMEType + ", base64"
	}
	return fmt.Sprintf("text, %d bytes", len(f.Content))
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}

// ─── Model catalog ───

func runModels(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := quietLogger()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	app, err := application.NewAppCLI(loaded.Config, log)
	if err != nil {
		return err
	}
	defer app.Stop(context.Background())

	models, err := app.ModelCatalog().ListActive(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODEL\tPROVIDER\tCONTEXT\tIN $/1M\tOUT $/1M\tVISION")
	for _, m := range models {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%v\n",
			m.ID, m.ModelID, m.Provider, m.ContextWindow,
			m.InputPrice.StringFixed(3), m.OutputPrice.StringFixed(3), m.SupportsVision)
	}
	return tw.Flush()
}

package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/blessing-relay/internal/config"
	"github.com/fpang/blessing-relay/internal/lambdaboot"
	"github.com/fpang/blessing-relay/internal/logging"
	"github.com/fpang/blessing-relay/internal/pollclient"
	"github.com/fpang/blessing-relay/internal/server"
)

// CLI flags
var (
	portFlag     int
	storeFlag    string
	useAWSFlag   bool
	serverFlag   string
	taskFlag     string
	outputFlag   string
	intervalFlag time.Duration
	attemptsFlag int
)

var rootCmd = &cobra.Command{
	Use:   "blessing-web",
	Short: "Local server and tools for the blessing image relay",
	Long: `blessing-web runs the task result relay locally and includes a client
that waits for a generation task the way the browser does.

Examples:
  blessing-web serve
  blessing-web serve --port 9090 --aws
  blessing-web serve --store redis
  blessing-web wait --task 3f2a9c --output blessing.jpg`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay HTTP server",
	Long: `Start the relay on a local port. With the default memory store this
process must receive both the provider callback and the browser polls, so
expose it through a tunnel and set BLESSING_PUBLIC_BASE_URL to the tunnel URL.`,
	RunE: runServe,
}

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Poll check-task until a task finishes",
	RunE:  runWait,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&storeFlag, "store", "", "Task store backend: memory, redis or dynamodb (overrides BLESSING_STORE)")
	serveCmd.Flags().BoolVar(&useAWSFlag, "aws", false, "Load AWS credentials (needed for dynamodb store, SSM secrets, s3:// assets)")

	waitCmd.Flags().StringVar(&serverFlag, "server", "http://localhost:8080", "Relay base URL")
	waitCmd.Flags().StringVarP(&taskFlag, "task", "t", "", "Task ID to wait for")
	waitCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Write the image to this file")
	waitCmd.Flags().DurationVar(&intervalFlag, "interval", pollclient.DefaultInterval, "Wait between polls")
	waitCmd.Flags().IntVar(&attemptsFlag, "attempts", pollclient.DefaultMaxAttempts, "Maximum number of polls")
	waitCmd.MarkFlagRequired("task")

	rootCmd.AddCommand(serveCmd, waitCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	initStart := time.Now()

	cfg, err := loadConfig(cmd.Flags().Changed("store"), storeFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var awsClients *lambdaboot.AWSClients
	if useAWSFlag || cfg.Store == config.StoreDynamo {
		c := lambdaboot.InitAWS(ctx)
		awsClients = &c
	}

	handler, closeStore, err := server.Build(ctx, cfg, awsClients, nil)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn().Err(err).Msg("Failed to close task store")
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", portFlag),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logging.NewStartupLogger("blessing-web").
		CommitHash(commitHash).
		BuildTime(buildTime).
		InitDuration(time.Since(initStart)).
		StoreBackend(cfg.Store).
		Feature("generateImage", cfg.NanoBananaAPIKey != "").
		Feature("networked", cfg.Networked()).
		Config("port", fmt.Sprint(portFlag)).
		Log()
	fmt.Printf("\n  Blessing relay: http://localhost:%d\n\n", portFlag)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// loadConfig reads the environment and applies the --store override before
// validating.
func loadConfig(overrideStore bool, store string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if overrideStore {
		cfg.Store = store
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runWait(cmd *cobra.Command, args []string) error {
	client := pollclient.New(serverFlag)
	client.Interval = intervalFlag
	client.MaxAttempts = attemptsFlag

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	images, err := client.Wait(ctx, strings.TrimSpace(taskFlag))
	if err != nil {
		return err
	}
	img := images[0]
	data, err := base64.StdEncoding.DecodeString(img.Base64)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	if outputFlag == "" {
		fmt.Printf("Task %s finished: %s, %d bytes\n", taskFlag, img.MediaType, len(data))
		return nil
	}
	if err := os.WriteFile(outputFlag, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outputFlag, err)
	}
	fmt.Printf("Saved %s (%s, %d bytes)\n", outputFlag, img.MediaType, len(data))
	return nil
}

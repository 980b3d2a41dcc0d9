package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"robot-rag/internal/config"
	"robot-rag/internal/crawler"
	"robot-rag/internal/db"
	"robot-rag/internal/embedding"
	"robot-rag/internal/ingest"
	"robot-rag/internal/llmservice"
	"robot-rag/internal/rag"
	"robot-rag/internal/search"
)

const defaultConfigFilePath = "./configs/config.yaml"

var (
	configFilePath string
	debug          bool
	cfg            *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "robot-rag",
	Short:         "Chat robots that answer questions from their own documents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configFilePath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		setupLogger(cfg.LogLevel, debug)
		log.Debug().Interface("config", cfg).Msg("Loaded config")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, "path to the config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func setupLogger(level string, debug bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func openDB() (*bun.DB, *db.Store, error) {
	bunDB, err := db.Connect(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to database: %w", err)
	}
	return bunDB, db.NewStore(bunDB), nil
}

func newEmbedder() (*embedding.Embedder, error) {
	e, err := embedding.NewFromConfig(&cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("error initializing embedder: %w", err)
	}
	return e, nil
}

func newIngestService(store *db.Store) (*ingest.Service, error) {
	embedder, err := newEmbedder()
	if err != nil {
		return nil, err
	}
	return ingest.NewService(store, embedder, crawler.NewFromConfig(&cfg.Crawler), cfg), nil
}

func newRAG(store *db.Store) (*rag.RAG, error) {
	embedder, err := newEmbedder()
	if err != nil {
		return nil, err
	}
	chat, err := llmservice.NewClientFromConfig(&cfg.ChatLLM)
	if err != nil {
		return nil, fmt.Errorf("error initializing chat client: %w", err)
	}
	return rag.NewRAG(store, search.NewSearcher(store, embedder), chat, &cfg.RAG), nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"robot-rag/internal/chromemdb"
	"robot-rag/internal/crawler"
	"robot-rag/internal/db"
	"robot-rag/internal/helper"
	"robot-rag/internal/parser"
	"robot-rag/internal/search"
	"robot-rag/internal/watcher"
)

var (
	dropTables     bool
	robotID        string
	userID         string
	robotName      string
	description    string
	isDefault      bool
	dryRun         bool
	seedURL        string
	depth          int
	resultCount    int
	documentID     string
	watchDir       string
	debounceMillis int
	snapshotFile   string
	snapshotKey    string
	compress       bool
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		bunDB, _, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		if dropTables {
			if err := db.DropTables(ctx, bunDB); err != nil {
				return err
			}
		}
		if err := db.InitDB(ctx, bunDB); err != nil {
			return fmt.Errorf("error initializing database: %w", err)
		}
		log.Info().Str("driver", cfg.Database.Driver).Msg("Database initialized")
		return nil
	},
}

var addRobotCmd = &cobra.Command{
	Use:   "add-robot",
	Short: "Create a chat robot with a default description",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		bunDB, store, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		robot, err := store.CreateRobot(ctx, robotName, description)
		if err != nil {
			return err
		}
		if description != "" {
			if _, err := store.AddRobotDescription(ctx, robot.ID, description, true); err != nil {
				return err
			}
		}
		helper.PrettyPrint(robot)
		return nil
	},
}

var addDescriptionCmd = &cobra.Command{
	Use:   "add-description",
	Short: "Add a persona description to a robot",
	RunE: func(cmd *cobra.Command, args []string) error {
		bunDB, store, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		desc, err := store.AddRobotDescription(cmd.Context(), robotID, description, isDefault)
		if err != nil {
			return err
		}
		helper.PrettyPrint(desc)
		return nil
	},
}

var listRobotsCmd = &cobra.Command{
	Use:   "list-robots",
	Short: "List chat robots",
	RunE: func(cmd *cobra.Command, args []string) error {
		bunDB, store, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		robots, err := store.ListRobots(cmd.Context())
		if err != nil {
			return err
		}
		helper.PrettyPrint(robots)
		return nil
	},
}

var getRobotCmd = &cobra.Command{
	Use:   "get-robot",
	Short: "Show one chat robot with its default description",
	RunE: func(cmd *cobra.Command, args []string) error {
		bunDB, store, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		robot, err := store.GetRobot(cmd.Context(), robotID)
		if err != nil {
			return err
		}
		persona, err := store.GetDefaultDescription(cmd.Context(), robotID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}
		helper.PrettyPrint(map[string]interface{}{
			"robot":               robot,
			"default_description": persona,
		})
		return nil
	},
}

var listUsersCmd = &cobra.Command{
	Use:   "list-users",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		bunDB, store, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		users, err := store.ListUsers(cmd.Context())
		if err != nil {
			return err
		}
		helper.PrettyPrint(users)
		return nil
	},
}

var addUserCmd = &cobra.Command{
	Use:   "add-user",
	Short: "Create a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		bunDB, store, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		user, err := store.CreateUser(cmd.Context(), description)
		if err != nil {
			return err
		}
		helper.PrettyPrint(user)
		return nil
	},
}

var ingestFileCmd = &cobra.Command{
	Use:   "ingest-file [path]",
	Short: "Parse, embed and store a document for a robot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if dryRun {
			chunks, err := parser.ParseFile(path, cfg)
			if err != nil {
				return err
			}
			log.Info().Int("chunks", len(chunks)).Msg("Parsed content")
			helper.PrettyPrint(chunks)
			return nil
		}

		if robotID == "" {
			return fmt.Errorf("--robot is required unless --dry-run is set")
		}

		bunDB, store, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		svc, err := newIngestService(store)
		if err != nil {
			return err
		}
		report, err := svc.IngestFile(cmd.Context(), robotID, path)
		if err != nil {
			return err
		}
		helper.PrettyPrint(report)
		return nil
	},
}

var ingestWebCmd = &cobra.Command{
	Use:   "ingest-web",
	Short: "Crawl a website and store every page for a robot",
	RunE: func(cmd *cobra.Command, args []string) error {
		bunDB, store, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		svc, err := newIngestService(store)
		if err != nil {
			return err
		}
		report, err := svc.IngestWebsite(cmd.Context(), robotID, seedURL, depth)
		if report != nil {
			log.Info().Int("pages", len(report.Pages)).Int("skipped", report.Skipped).Msg("Website ingested")
		}
		return err
	},
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Print the links reachable from a page",
	RunE: func(cmd *cobra.Command, args []string) error {
		links := crawler.NewFromConfig(&cfg.Crawler).Crawl(cmd.Context(), seedURL, depth)
		for _, l := range links {
			fmt.Println(l)
		}
		return nil
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar [question]",
	Short: "Show the chunks most similar to a question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bunDB, store, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		embedder, err := newEmbedder()
		if err != nil {
			return err
		}
		results, err := search.NewSearcher(store, embedder).GetSimilarContent(cmd.Context(), robotID, args[0], resultCount)
		if err != nil {
			return err
		}
		helper.PrettyPrint(results)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a robot a question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bunDB, store, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		r, err := newRAG(store)
		if err != nil {
			return err
		}

		log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		fmt.Printf("%s\n\n", args[0])

		answer := r.Ask(cmd.Context(), robotID, userID, args[0])

		log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		fmt.Printf("%s\n\n", answer)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the conversation between a user and a robot",
	RunE: func(cmd *cobra.Command, args []string) error {
		bunDB, store, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		turns, err := store.ListTurns(cmd.Context(), userID, robotID)
		if err != nil {
			return err
		}
		helper.PrettyPrint(turns)
		return nil
	},
}

var deleteDocumentCmd = &cobra.Command{
	Use:   "delete-document",
	Short: "Delete a document with its chunks and vectors",
	RunE: func(cmd *cobra.Command, args []string) error {
		bunDB, store, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		return store.DeleteDocument(cmd.Context(), documentID)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Ingest documents dropped into a folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := helper.CreateFolder(watchDir); err != nil {
			return err
		}

		bunDB, store, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		svc, err := newIngestService(store)
		if err != nil {
			return err
		}

		w, err := watcher.New(parser.SupportedExtensions(), time.Duration(debounceMillis)*time.Millisecond)
		if err != nil {
			return err
		}
		defer w.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		log.Info().Str("dir", watchDir).Msg("Watching for documents")
		err = w.Run(ctx, watchDir, func(ctx context.Context, ev watcher.Event) error {
			report, err := svc.IngestFile(ctx, robotID, ev.Path)
			if err != nil {
				return err
			}
			log.Info().Str("file", filepath.Base(ev.Path)).Int("saved", report.Saved).Msg("Ingested dropped file")
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

var exportRobotCmd = &cobra.Command{
	Use:   "export-robot",
	Short: "Export a robot's embedded chunks to a snapshot file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := helper.CreateFolder(filepath.Dir(snapshotFile)); err != nil {
			return err
		}

		bunDB, store, err := openDB()
		if err != nil {
			return err
		}
		defer bunDB.Close()

		_, err = chromemdb.ExportRobot(cmd.Context(), store, robotID, snapshotFile, chromemdb.ExportOptions{
			Compress:      compress,
			EncryptionKey: snapshotKey,
		})
		return err
	},
}

var snapshotQueryCmd = &cobra.Command{
	Use:   "snapshot-query [question]",
	Short: "Search an exported snapshot without a database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := chromemdb.OpenSnapshot(snapshotFile, snapshotKey)
		if err != nil {
			return err
		}
		embedder, err := newEmbedder()
		if err != nil {
			return err
		}

		res := embedder.Embed(cmd.Context(), args[0])
		if !res.OK() {
			return fmt.Errorf("failed to embed question: %w", res.Err)
		}
		results, err := snap.Query(cmd.Context(), res.Vector, resultCount)
		if err != nil {
			return err
		}
		helper.PrettyPrint(results)
		return nil
	},
}

func init() {
	initDBCmd.Flags().BoolVar(&dropTables, "drop", false, "drop existing tables first")

	addRobotCmd.Flags().StringVar(&robotName, "name", "", "robot name")
	addRobotCmd.Flags().StringVar(&description, "description", "", "default persona description")
	_ = addRobotCmd.MarkFlagRequired("name")

	addDescriptionCmd.Flags().StringVar(&robotID, "robot", "", "robot id")
	addDescriptionCmd.Flags().StringVar(&description, "description", "", "persona description")
	addDescriptionCmd.Flags().BoolVar(&isDefault, "default", false, "make this the default description")
	_ = addDescriptionCmd.MarkFlagRequired("robot")
	_ = addDescriptionCmd.MarkFlagRequired("description")

	getRobotCmd.Flags().StringVar(&robotID, "robot", "", "robot id")
	_ = getRobotCmd.MarkFlagRequired("robot")

	addUserCmd.Flags().StringVar(&description, "description", "", "user description")

	ingestFileCmd.Flags().StringVar(&robotID, "robot", "", "robot id")
	ingestFileCmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and print chunks without saving")

	ingestWebCmd.Flags().StringVar(&robotID, "robot", "", "robot id")
	ingestWebCmd.Flags().StringVar(&seedURL, "url", "", "seed url")
	ingestWebCmd.Flags().IntVar(&depth, "depth", 1, "crawl depth")
	_ = ingestWebCmd.MarkFlagRequired("robot")
	_ = ingestWebCmd.MarkFlagRequired("url")

	crawlCmd.Flags().StringVar(&seedURL, "url", "", "seed url")
	crawlCmd.Flags().IntVar(&depth, "depth", 1, "crawl depth")
	_ = crawlCmd.MarkFlagRequired("url")

	similarCmd.Flags().StringVar(&robotID, "robot", "", "robot id")
	similarCmd.Flags().IntVarP(&resultCount, "count", "n", 3, "number of chunks")
	_ = similarCmd.MarkFlagRequired("robot")

	askCmd.Flags().StringVar(&robotID, "robot", "", "robot id")
	askCmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = askCmd.MarkFlagRequired("robot")
	_ = askCmd.MarkFlagRequired("user")

	historyCmd.Flags().StringVar(&robotID, "robot", "", "robot id")
	historyCmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = historyCmd.MarkFlagRequired("robot")
	_ = historyCmd.MarkFlagRequired("user")

	deleteDocumentCmd.Flags().StringVar(&documentID, "id", "", "document id")
	_ = deleteDocumentCmd.MarkFlagRequired("id")

	watchCmd.Flags().StringVar(&robotID, "robot", "", "robot id")
	watchCmd.Flags().StringVar(&watchDir, "dir", "./inbox", "folder to watch")
	watchCmd.Flags().IntVar(&debounceMillis, "debounce-ms", 2000, "handle a file once its events have been quiet this long")
	_ = watchCmd.MarkFlagRequired("robot")

	exportRobotCmd.Flags().StringVar(&robotID, "robot", "", "robot id")
	exportRobotCmd.Flags().StringVarP(&snapshotFile, "out", "o", "./snapshots/robot.gob", "snapshot file")
	exportRobotCmd.Flags().BoolVar(&compress, "compress", false, "gzip the snapshot")
	exportRobotCmd.Flags().StringVar(&snapshotKey, "key", "", "32-byte encryption key")
	_ = exportRobotCmd.MarkFlagRequired("robot")

	snapshotQueryCmd.Flags().StringVarP(&snapshotFile, "file", "f", "./snapshots/robot.gob", "snapshot file")
	snapshotQueryCmd.Flags().StringVar(&snapshotKey, "key", "", "32-byte encryption key")
	snapshotQueryCmd.Flags().IntVarP(&resultCount, "count", "n", 3, "number of chunks")

	rootCmd.AddCommand(
		initDBCmd,
		addRobotCmd,
		addDescriptionCmd,
		listRobotsCmd,
		getRobotCmd,
		addUserCmd,
		listUsersCmd,
		ingestFileCmd,
		ingestWebCmd,
		crawlCmd,
		similarCmd,
		askCmd,
		historyCmd,
		deleteDocumentCmd,
		watchCmd,
		exportRobotCmd,
		snapshotQueryCmd,
	)
}

// Package main is the Chie CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/chie/internal/cli"
	"github.com/hyperjump/chie/internal/config"
	"github.com/hyperjump/chie/internal/embedding"
	"github.com/hyperjump/chie/internal/extract"
	"github.com/hyperjump/chie/internal/ingest"
	"github.com/hyperjump/chie/internal/keyword"
	"github.com/hyperjump/chie/internal/models"
	"github.com/hyperjump/chie/internal/retrieval"
	"github.com/hyperjump/chie/internal/server"
	"github.com/hyperjump/chie/internal/storage"
	"github.com/hyperjump/chie/internal/vectorstore"
	"github.com/hyperjump/chie/internal/watcher"
	"github.com/hyperjump/chie/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/chie/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "chie server" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "retrieve":
		runRetrieve()
	case "status":
		runStatus()
	case "migrate":
		runMigrate()
	case "version", "--version", "-v":
		fmt.Printf("chie version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (ingestion stages, watch events, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	components.Coordinator.Start(watchCtx)

	var watchSvc *watcher.Watcher
	if len(cfg.Watch.Directories) > 0 {
		if cfg.Watch.KnowledgeBase == "" {
			logger.Warn("watch directories configured without watch.knowledge_base; watch disabled")
		} else {
			sink := watcher.NewDropIngestor(components.Coordinator, cfg.Watch.KnowledgeBase, logger)
			watchOpts := []watcher.Option{}
			if debugMode {
				watchOpts = append(watchOpts, watcher.WithLogger(logger))
			}
			watchSvc = watcher.New(
				cfg.Watch.Directories,
				cfg.Watch.Extensions,
				cfg.Watch.RecursiveOrDefault(),
				sink,
				watchOpts...,
			)
			if err := watchSvc.Start(watchCtx); err != nil {
				logger.Fatal("Failed to start watcher", zap.Error(err))
			}
			watchSvc.SyncExisting(watchCtx)
		}
	}

	srv := server.NewServer(
		components.Storage,
		components.Engine,
		components.Coordinator,
		components.Router,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// printRetrieveUsage prints retrieve subcommand usage and query hints.
func printRetrieveUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: chie retrieve [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Results are a single fused ranked list over the knowledge base.
  • Use --hybrid=false for semantic-only ranking.
  • --threshold filters low-relevance hits; --top-k controls how many.
  • When no results are found, a spelling suggestion is offered if one exists.

Examples:
  chie retrieve --kb docs machine learning
  chie retrieve --kb docs "machine learning"        # same as above
  chie retrieve --kb docs --hybrid=false neural networks
  chie retrieve --kb docs --threshold 0.3 --top-k 20 your query
  chie retrieve --kb docs --output json "query"     # structured JSON for other apps
`)
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting (e.g. "vector search" vs vector search).
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// configPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func configPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// retrieveArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "chie retrieve \"query\" -top-k 5"
// would otherwise leave -top-k unparsed.
func retrieveArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// resolveKnowledgeBase returns the knowledge base to target: the -kb flag if
// given, else the configured watch.knowledge_base.
func resolveKnowledgeBase(kbFlag, configPath string) string {
	if kbFlag != "" {
		return kbFlag
	}
	cfg, _, err := loadConfig(configPath)
	if err != nil || cfg == nil {
		return ""
	}
	return cfg.Watch.KnowledgeBase
}

func runRetrieve() {
	retrieveArgs := retrieveArgsReorder(os.Args[2:])

	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	configPathFlag := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage when server is not running)")
	kbFlag := fs.String("kb", "", "knowledge base ID (default: watch.knowledge_base from config)")
	topK := fs.Int("top-k", 10, "number of results")
	threshold := fs.Float64("threshold", 0, "minimum fused score (0 = use config default)")
	hybrid := fs.Bool("hybrid", true, "fuse lexical search with semantic search")
	timeoutMs := fs.Int("timeout-ms", 0, "query deadline in milliseconds (0 = use config default)")
	outputFormat := fs.String("output", "text", "output format: text (human-readable), compact (one result per line), or json (parseable)")
	fs.Usage = func() { printRetrieveUsage(fs) }
	_ = fs.Parse(retrieveArgs)

	if fs.NArg() < 1 {
		printRetrieveUsage(fs)
		os.Exit(1)
	}
	queryStr := buildQuery(fs.Args())
	if queryStr == "" {
		printRetrieveUsage(fs)
		os.Exit(1)
	}

	kbID := resolveKnowledgeBase(*kbFlag, *configPathFlag)
	if kbID == "" {
		fmt.Fprintln(os.Stderr, "Knowledge base required: pass --kb or set watch.knowledge_base in config")
		os.Exit(1)
	}

	format := cli.OutputText
	switch *outputFormat {
	case "json":
		format = cli.OutputJSON
	case "text":
		format = cli.OutputText
	case "compact":
		format = cli.OutputCompact
	default:
		fmt.Printf("Unknown output format %q; use text, compact, or json\n", *outputFormat)
		os.Exit(1)
	}

	query := &models.RetrievalQuery{
		KnowledgeBaseID: kbID,
		Query:           queryStr,
		TopK:            *topK,
		ScoreThreshold:  *threshold,
		Hybrid:          *hybrid,
		TimeoutMs:       *timeoutMs,
	}

	if *serverURL != "" {
		// Use HTTP API when server is running (avoids Bleve/SQLite lock conflict).
		response, err := retrieveViaHTTP(*serverURL, kbID, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Retrieve failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteRetrievalResults(os.Stdout, response, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Direct storage access (when server is not running).
	cfg, _, err := loadConfig(*configPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	response, err := components.Engine.Retrieve(context.Background(), query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Retrieve failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteRetrievalResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func retrieveViaHTTP(serverURL, kbID string, query *models.RetrievalQuery) (*models.RetrievalResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/knowledge-bases/"+kbID+"/retrieve", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.RetrievalResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage when server is not running)")
	kbFlag := fs.String("kb", "", "knowledge base ID (default: watch.knowledge_base from config)")
	title := fs.String("title", "", "document title (default: file basename)")
	wait := fs.Bool("wait", true, "wait for ingestion to finish and report the final status")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: chie ingest [flags] <file>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	kbID := resolveKnowledgeBase(*kbFlag, *configPath)
	if kbID == "" {
		fmt.Fprintln(os.Stderr, "Knowledge base required: pass --kb or set watch.knowledge_base in config")
		os.Exit(1)
	}
	docTitle := *title
	if docTitle == "" {
		docTitle = filepath.Base(path)
	}

	if *serverURL != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read file: %v\n", err)
			os.Exit(1)
		}
		docID, err := ingestViaHTTP(*serverURL, kbID, &models.DocumentInput{
			Title:      docTitle,
			SourceType: models.SourceUpload,
			Content:    content,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Document accepted: %s\n", docID)
		if *wait {
			doc, err := waitForDocumentHTTP(*serverURL, docID, 2*time.Minute)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Wait failed: %v\n", err)
				os.Exit(1)
			}
			printDocumentOutcome(doc)
		}
		return
	}

	// Direct storage access (when server is not running).
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	components.Coordinator.Start(ctx)

	absPath, err := filepath.Abs(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve path: %v\n", err)
		os.Exit(1)
	}
	doc, err := components.Coordinator.Submit(ctx, &models.DocumentInput{
		KnowledgeBaseID: kbID,
		Title:           docTitle,
		SourceType:      models.SourceUpload,
		ContentRef:      absPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Document accepted: %s\n", doc.ID)
	if *wait {
		final, err := waitForDocument(ctx, components.Storage, doc.ID, 2*time.Minute)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Wait failed: %v\n", err)
			os.Exit(1)
		}
		printDocumentOutcome(final)
	}
}

func ingestViaHTTP(serverURL, kbID string, input *models.DocumentInput) (string, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	resp, err := http.Post(serverURL+"/api/v1/knowledge-bases/"+kbID+"/documents", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.DocumentID, nil
}

func waitForDocumentHTTP(serverURL, docID string, timeout time.Duration) (*models.Document, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(serverURL + "/api/v1/documents/" + docID)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		var doc models.Document
		decodeErr := json.NewDecoder(resp.Body).Decode(&doc)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("server returned %d", resp.StatusCode)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("decode response: %w", decodeErr)
		}
		if doc.Status == models.StatusCompleted || doc.Status == models.StatusFailed {
			return &doc, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil, fmt.Errorf("document %s still processing after %s", docID, timeout)
}

func waitForDocument(ctx context.Context, store storage.Storage, docID string, timeout time.Duration) (*models.Document, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		doc, err := store.GetDocument(ctx, docID)
		if err != nil {
			return nil, err
		}
		if doc.Status == models.StatusCompleted || doc.Status == models.StatusFailed {
			return doc, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil, fmt.Errorf("document %s still processing after %s", docID, timeout)
}

func printDocumentOutcome(doc *models.Document) {
	fmt.Printf("Status: %s\n", doc.Status)
	if doc.StatusReason != "" {
		fmt.Printf("Reason: %s\n", doc.StatusReason)
	}
	for _, f := range doc.UnitFailures {
		fmt.Printf("  unit %s [%s]: %s\n", f.UnitID, f.Kind, f.Message)
	}
	if doc.Status == models.StatusFailed {
		os.Exit(1)
	}
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	KnowledgeBases int64                  `json:"knowledge_bases"`
	Documents      int64                  `json:"documents"`
	Chunks         int64                  `json:"chunks"`
	Collections    []string               `json:"collections"`
	IngestQueue    int                    `json:"ingest_queue"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		ctx := context.Background()
		kbs, err := components.Storage.ListKnowledgeBases(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "List knowledge bases failed: %v\n", err)
			os.Exit(1)
		}
		for _, kb := range kbs {
			d, err := components.Storage.CountDocuments(ctx, kb.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Count documents failed: %v\n", err)
				os.Exit(1)
			}
			c, err := components.Storage.CountChunks(ctx, kb.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Count chunks failed: %v\n", err)
				os.Exit(1)
			}
			status.Documents += d
			status.Chunks += c
		}
		status.KnowledgeBases = int64(len(kbs))
		status.Collections = components.Router.Collections()
		status.Config = map[string]interface{}{
			"embedding_provider": cfg.Embedding.Provider,
			"store_backend":      cfg.Store.Backend,
			"segment_target":     cfg.Segment.TargetSize,
			"hybrid_enabled":     cfg.Retrieval.HybridEnabled,
		}
		diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath, cfg.Storage.VectorDataDir)
		if err == nil {
			status.DiskUsageBytes = &diskBytes
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("knowledge_bases:    %d\n", status.KnowledgeBases)
		fmt.Printf("documents:          %d   # count of ingested documents\n", status.Documents)
		fmt.Printf("chunks:             %d   # count of retrieval units\n", status.Chunks)
		fmt.Printf("collections:        %d   # vector collections\n", len(status.Collections))
		fmt.Printf("ingest_queue:       %d   # documents waiting for a worker\n", status.IngestQueue)
		if status.DiskUsageBytes != nil {
			fmt.Printf("disk_usage_bytes:   %d   # storage + indices on disk\n", *status.DiskUsageBytes)
		}
		if len(status.Config) > 0 {
			fmt.Println()
			fmt.Println("# configuration")
			for _, key := range []string{"embedding_provider", "store_backend", "segment_target", "hybrid_enabled"} {
				if v, ok := status.Config[key]; ok {
					fmt.Printf("%-19s %v\n", key+":", v)
				}
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// migrationResponse is the shape of GET /api/v1/migrations/{id} response.
type migrationResponse struct {
	ID            string  `json:"id"`
	KnowledgeBase string  `json:"knowledge_base_id"`
	Status        string  `json:"status"`
	Progress      float64 `json:"progress_fraction"`
	Finalized     bool    `json:"finalized,omitempty"`
}

func runMigrate() {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	backend := fs.String("backend", "", "target store backend: memory, bolt, or qdrant")
	address := fs.String("address", "", "target store address (qdrant)")
	metric := fs.String("metric", "", "distance metric: cosine or dot (default: keep current)")
	wait := fs.Bool("wait", true, "wait for the copy to complete and finalize the cutover")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: chie migrate [flags] <knowledge-base-id>")
		os.Exit(1)
	}
	if *backend == "" {
		fmt.Fprintln(os.Stderr, "Target backend required: pass --backend")
		os.Exit(1)
	}
	kbID := fs.Arg(0)

	body, _ := json.Marshal(map[string]interface{}{
		"store": models.StoreConfig{Backend: *backend, Address: *address, Metric: *metric},
	})
	resp, err := http.Post(*serverURL+"/api/v1/knowledge-bases/"+kbID+"/migrate", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Migration start failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var started struct {
		MigrationID string `json:"migration_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Migration started: %s\n", started.MigrationID)
	if !*wait {
		return
	}

	for {
		m, err := migrationStatusViaHTTP(*serverURL, started.MigrationID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status poll failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("  %s (%.0f%%)\n", m.Status, m.Progress*100)
		if m.Status == "failed" {
			fmt.Fprintln(os.Stderr, "Migration failed")
			os.Exit(1)
		}
		if m.Status == "completed" {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	finResp, err := http.Post(*serverURL+"/api/v1/migrations/"+started.MigrationID+"/finalize", "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Finalize failed: %v\n", err)
		os.Exit(1)
	}
	defer finResp.Body.Close()
	if finResp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(finResp.Body)
		fmt.Fprintf(os.Stderr, "Finalize failed (%d): %s\n", finResp.StatusCode, string(b))
		os.Exit(1)
	}
	fmt.Printf("Migration finalized: %s now on %s\n", kbID, *backend)
}

func migrationStatusViaHTTP(serverURL, migrationID string) (*migrationResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/migrations/" + migrationID)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var m migrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &m, nil
}

// Components holds initialized services.
type Components struct {
	Storage     storage.Storage
	Registry    *embedding.Registry
	Router      *vectorstore.Router
	Keyword     *keyword.BleveIndex
	Coordinator *ingest.Coordinator
	Engine      *retrieval.Engine
}

func (c *Components) Close() {
	if c.Coordinator != nil {
		c.Coordinator.Close()
	}
	if c.Registry != nil {
		_ = c.Registry.Close()
	}
	if c.Router != nil {
		_ = c.Router.Close()
	}
	if c.Keyword != nil {
		_ = c.Keyword.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry, err := embedding.NewRegistryFromConfig(cfg.Embedding, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedding registry: %w", err)
	}

	kwIndex, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		_ = registry.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	routerOpts := []vectorstore.RouterOption{}
	if debug {
		routerOpts = append(routerOpts, vectorstore.WithRouterLogger(logger))
	}
	router := vectorstore.NewRouter(cfg.Storage.VectorDataDir, routerOpts...)

	extractorOpts := []extract.Option{extract.WithLogger(logger)}
	if cfg.Media.OCREndpoint != "" || cfg.Media.CaptionEndpoint != "" || cfg.Media.TranscribeEndpoint != "" {
		mc := extract.NewMediaClient(
			cfg.Media.OCREndpoint,
			cfg.Media.CaptionEndpoint,
			cfg.Media.TranscribeEndpoint,
			time.Duration(cfg.Media.TimeoutSeconds)*time.Second,
			logger,
		)
		extractorOpts = append(extractorOpts, extract.WithMediaClient(mc))
	}
	extractor := extract.NewExtractor(extractorOpts...)

	contentDir := filepath.Join(filepath.Dir(cfg.Storage.DatabasePath), "content")
	coordOpts := []ingest.CoordinatorOption{}
	if debug {
		coordOpts = append(coordOpts, ingest.WithCoordinatorLogger(logger))
	}
	coord := ingest.NewCoordinator(store, router, kwIndex, registry, extractor, cfg.Ingest, contentDir, coordOpts...)

	batcher := embedding.NewBatcher(registry, cfg.Embedding.BatchSize)
	engineOpts := []retrieval.EngineOption{
		retrieval.WithSpellChecker(keyword.NewSpellChecker(kwIndex)),
	}
	if debug {
		engineOpts = append(engineOpts, retrieval.WithEngineLogger(logger))
	}
	engine := retrieval.NewEngine(store, router, kwIndex, batcher, cfg.Retrieval, engineOpts...)

	return &Components{
		Storage:     store,
		Registry:    registry,
		Router:      router,
		Keyword:     kwIndex,
		Coordinator: coord,
		Engine:      engine,
	}, nil
}

func printUsage() {
	fmt.Println(`chie - Multi-modal knowledge retrieval engine

Usage:
  chie server [flags]               Start the HTTP server
  chie ingest [flags] <file>        Submit a document for ingestion
  chie retrieve [flags] <query>     Query a knowledge base
  chie status [flags]               Show engine/storage/index status
  chie migrate [flags] <kb-id>      Migrate a knowledge base to another store backend
  chie version                      Show version
  chie help                         Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/chie/config.yaml)
  --debug            Enable debug logging (ingestion stages, watch events, etc.)

Ingest Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") to use direct storage when server is not running.
  --kb string        Knowledge base ID (default: watch.knowledge_base from config)
  --title string     Document title (default: file basename)
  --wait             Wait for ingestion to finish (default: true)

Retrieve Flags:
  --config string     Config file path (for direct storage mode)
  --server string     Server URL (default: http://localhost:8080). Use empty (--server "") to use direct storage when server is not running.
  --kb string         Knowledge base ID (default: watch.knowledge_base from config)
  --top-k int         Number of results (default: 10)
  --threshold float   Minimum fused score (default from config)
  --hybrid            Fuse lexical search with semantic search (default: true)
  --output string     Output format: text, compact, or json (default: text)

Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Migrate Flags:
  --server string    Server URL (default: http://localhost:8080)
  --backend string   Target store backend: memory, bolt, or qdrant (required)
  --address string   Target store address (qdrant)
  --metric string    Distance metric: cosine or dot
  --wait             Wait for copy and finalize the cutover (default: true)

Examples:
  chie server
  chie ingest --kb docs report.pdf
  chie retrieve --kb docs "quarterly revenue"
  chie retrieve --kb docs --output json "query"   # structured JSON for other apps
  chie retrieve --kb docs --hybrid=false neural networks
  chie status
  chie status --output json
  chie migrate --backend qdrant --address localhost:6334 docs`)
}

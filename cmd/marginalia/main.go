package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/marginalia-dev/marginalia/internal/answer"
	"github.com/marginalia-dev/marginalia/internal/config"
	"github.com/marginalia-dev/marginalia/internal/embed"
	"github.com/marginalia-dev/marginalia/internal/enrich"
	"github.com/marginalia-dev/marginalia/internal/ingest"
	"github.com/marginalia-dev/marginalia/internal/llm"
	"github.com/marginalia-dev/marginalia/internal/mcp"
	"github.com/marginalia-dev/marginalia/internal/search"
	"github.com/marginalia-dev/marginalia/internal/server"
	"github.com/marginalia-dev/marginalia/internal/store"
)

const version = "0.3.0"

func main() {
	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "mcp":
		err = runMCP(os.Args[2:])
	case "search":
		err = runSearch(os.Args[2:], false)
	case "ask":
		err = runSearch(os.Args[2:], true)
	case "import":
		err = runImport(os.Args[2:])
	case "backfill":
		err = runBackfill(os.Args[2:])
	case "apikey":
		err = runAPIKey(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("marginalia %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags holds flags shared across subcommands.
type commonFlags struct {
	configPath string
	dbPath     string
	llmFlag    string
	embedFlag  string
	addr       string
	user       string
	rest       []string // positional args
}

func parseCommon(args []string) (*commonFlags, error) {
	f := &commonFlags{}
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" && i+1 < len(args):
			i++
			f.configPath = args[i]
		case args[i] == "--db" && i+1 < len(args):
			i++
			f.dbPath = args[i]
		case args[i] == "--llm" && i+1 < len(args):
			i++
			f.llmFlag = args[i]
		case args[i] == "--embed" && i+1 < len(args):
			i++
			f.embedFlag = args[i]
		case args[i] == "--addr" && i+1 < len(args):
			i++
			f.addr = args[i]
		case args[i] == "--user" && i+1 < len(args):
			i++
			f.user = args[i]
		case strings.HasPrefix(args[i], "-"):
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		default:
			f.rest = append(f.rest, args[i])
		}
	}
	return f, nil
}

// deps holds the wired collaborators for one command invocation.
type deps struct {
	cfg      config.ResolvedConfig
	store    *store.SQLiteStore
	embedder embed.Embedder // nil when no provider key is available
	provider llm.Provider   // nil when no provider key is available
	engine   *search.Engine
	enricher *enrich.Enricher
}

// buildDeps opens the store and constructs provider clients once per
// process; missing provider credentials degrade to lexical-only search
// rather than failing startup.
func buildDeps(f *commonFlags) (*deps, error) {
	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: f.configPath,
		CLIDBPath:  f.dbPath,
		CLILLM:     f.llmFlag,
		CLIEmbed:   f.embedFlag,
		CLIAddr:    f.addr,
	})
	if err != nil {
		return nil, err
	}

	st, err := store.NewStore(store.Config{DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	d := &deps{cfg: cfg, store: st}

	if embedCfg, err := embed.ParseEmbedFlag(cfg.EmbedModel.Value); err == nil {
		if client, err := embed.NewClient(embedCfg); err == nil {
			d.embedder = client
		} else {
			fmt.Fprintf(os.Stderr, "[marginalia] embedding disabled: %v\n", err)
		}
	} else {
		fmt.Fprintf(os.Stderr, "[marginalia] embedding disabled: %v\n", err)
	}

	if llmCfg, err := llm.ParseModelFlag(cfg.LLMModel.Value); err == nil {
		if provider, err := llm.NewProvider(llmCfg); err == nil {
			d.provider = provider
		} else {
			fmt.Fprintf(os.Stderr, "[marginalia] AI answers disabled: %v\n", err)
		}
	} else {
		fmt.Fprintf(os.Stderr, "[marginalia] AI answers disabled: %v\n", err)
	}

	var synth search.Synthesizer
	if d.provider != nil {
		synth = answer.NewEngine(d.provider, answer.Options{})
	}
	d.engine = search.NewEngine(st, asSearchEmbedder(d.embedder), synth, search.EngineOptions{})

	if d.embedder != nil {
		d.enricher = enrich.NewEnricher(st, d.embedder, d.provider)
	}

	return d, nil
}

// asSearchEmbedder narrows the embed client to the engine's interface while
// keeping the nil check honest (a nil *embed.Client in a non-nil interface
// would defeat the engine's degradation path).
func asSearchEmbedder(e embed.Embedder) search.Embedder {
	if e == nil {
		return nil
	}
	return e
}

func runServe(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	d, err := buildDeps(f)
	if err != nil {
		return err
	}
	defer d.store.Close()

	srv := server.New(d.cfg.ServerAddr.Value, d.store, d.engine, d.enricher)
	fmt.Fprintf(os.Stderr, "marginalia %s listening on %s (db: %s)\n", version, srv.Addr, d.cfg.DBPath.Value)
	return srv.ListenAndServe()
}

func runMCP(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	if f.user == "" {
		return fmt.Errorf("usage: marginalia mcp --user <user-id> [--db <path>]")
	}
	d, err := buildDeps(f)
	if err != nil {
		return err
	}
	defer d.store.Close()

	s := mcp.NewServer(mcp.ServerConfig{
		Store:   d.store,
		Engine:  d.engine,
		UserID:  f.user,
		Version: version,
	})
	return mcp.ServeStdio(s)
}

func runSearch(args []string, useAI bool) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	if f.user == "" || len(f.rest) == 0 {
		name := "search"
		if useAI {
			name = "ask"
		}
		return fmt.Errorf("usage: marginalia %s --user <user-id> <query>", name)
	}
	d, err := buildDeps(f)
	if err != nil {
		return err
	}
	defer d.store.Close()

	resp, err := d.engine.Search(context.Background(), f.user, strings.Join(f.rest, " "), useAI)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runImport(args []string) error {
	var defaultBook string
	var filtered []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--book" && i+1 < len(args) {
			i++
			defaultBook = args[i]
			continue
		}
		filtered = append(filtered, args[i])
	}

	f, err := parseCommon(filtered)
	if err != nil {
		return err
	}
	if f.user == "" || len(f.rest) == 0 {
		return fmt.Errorf("usage: marginalia import --user <user-id> [--book <title>] <file>")
	}
	d, err := buildDeps(f)
	if err != nil {
		return err
	}
	defer d.store.Close()

	ctx := context.Background()
	eng := ingest.NewEngine(d.store)
	total := &ingest.Result{}
	for _, path := range f.rest {
		res, err := eng.ImportFile(ctx, f.user, path, defaultBook)
		if err != nil {
			return err
		}
		total.BooksCreated += res.BooksCreated
		total.Highlights += res.Highlights
		total.Skipped += res.Skipped
	}
	fmt.Printf("Imported %d highlight(s) across %d new book(s), %d skipped\n",
		total.Highlights, total.BooksCreated, total.Skipped)

	if d.enricher != nil && total.Highlights > 0 {
		res, err := d.enricher.Backfill(ctx, total.Highlights, 4)
		if err != nil {
			return err
		}
		fmt.Printf("Embedded %d highlight(s), %d failed\n", res.Embedded, res.Failed)
	} else if total.Highlights > 0 {
		fmt.Println("No embedding provider configured; run `marginalia backfill` later to embed them.")
	}
	return nil
}

func runBackfill(args []string) error {
	batchSize := 100
	workers := 4
	var filtered []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--batch" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --batch value: %s", args[i])
			}
			batchSize = n
		case args[i] == "--workers" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --workers value: %s", args[i])
			}
			workers = n
		default:
			filtered = append(filtered, args[i])
		}
	}

	f, err := parseCommon(filtered)
	if err != nil {
		return err
	}
	d, err := buildDeps(f)
	if err != nil {
		return err
	}
	defer d.store.Close()

	if d.enricher == nil {
		return fmt.Errorf("backfill requires an embedding provider (set OPENAI_API_KEY or --embed)")
	}

	res, err := d.enricher.Backfill(context.Background(), batchSize, workers)
	if err != nil {
		return err
	}
	fmt.Printf("Backfill complete: %d embedded, %d failed\n", res.Embedded, res.Failed)
	return nil
}

func runAPIKey(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: marginalia apikey <create|delete> --user <user-id> <name>")
	}
	action := args[0]

	f, err := parseCommon(args[1:])
	if err != nil {
		return err
	}
	if f.user == "" || len(f.rest) == 0 {
		return fmt.Errorf("usage: marginalia apikey %s --user <user-id> <name>", action)
	}
	name := f.rest[0]

	d, err := buildDeps(f)
	if err != nil {
		return err
	}
	defer d.store.Close()

	ctx := context.Background()
	switch action {
	case "create":
		key, err := d.store.CreateAPIKey(ctx, f.user, name)
		if err != nil {
			return err
		}
		fmt.Printf("API key %q created. Store it now — it is not shown again:\n%s\n", name, key)
		return nil
	case "delete":
		if err := d.store.DeleteAPIKey(ctx, f.user, name); err != nil {
			return err
		}
		fmt.Printf("API key %q deleted\n", name)
		return nil
	default:
		return fmt.Errorf("unknown apikey action: %s", action)
	}
}

func printUsage() {
	fmt.Printf(`marginalia %s — personal reading-highlight manager

Usage:
  marginalia <command> [arguments]

Commands:
  serve               Run the HTTP API server
  mcp                 Run the MCP server on stdio (requires --user)
  search <query>      Search highlights (requires --user)
  ask <query>         Search and synthesize an AI answer (requires --user)
  import <file...>    Import highlights from CSV/JSON/Markdown (requires --user)
  backfill            Embed highlights missing vectors [--batch N] [--workers N]
  apikey <action>     Manage API keys: create, delete (requires --user)
  version             Print version

Flags:
  --config <path>     Config file (default ~/.marginalia/config.yaml)
  --db <path>         Database path (default ~/.marginalia/marginalia.db)
  --llm <p/model>     LLM for answers, e.g. openai/gpt-4o-mini
  --embed <p/model>   Embedding model, e.g. openai/text-embedding-3-small
  --addr <addr>       HTTP listen address (serve only, default :8787)
  --book <title>      Fallback book title for import (rows without one)
  --user <id>         User scope for CLI commands
  -h, --help          Show this help message
  -v, --version       Print version
`, version)
}

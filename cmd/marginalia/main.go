// Command marginalia is the CLI for the assistant core.
//
// Usage:
//
//	marginalia turn "summarize the proposal" --project atlas
//	marginalia index ./notes.md --project atlas
//	marginalia validate --config config.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/marginalia-ai/marginalia/pkg/assistant"
	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/logger"
	"github.com/marginalia-ai/marginalia/pkg/retrieval"
	"github.com/marginalia-ai/marginalia/pkg/router"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Turn     TurnCmd     `cmd:"" help:"Run one assistant turn."`
	Index    IndexCmd    `cmd:"" help:"Index a document for retrieval."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (text or json)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("marginalia %s\n", version)
	return nil
}

// ValidateCmd loads and validates configuration.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	fmt.Println("Configuration OK")
	if len(cfg.Providers) > 0 {
		names := make([]string, 0, len(cfg.Providers))
		for name := range cfg.Providers {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Printf("  providers: %s\n", strings.Join(names, ", "))
	} else {
		fmt.Println("  providers: none (deterministic routes only)")
	}
	fmt.Printf("  memory:    %s (%s)\n", cfg.Memory.Driver, cfg.Memory.DSN)
	fmt.Printf("  embedder:  %s/%s dim=%d\n", cfg.Embedder.Type, cfg.Embedder.Model, cfg.Embedder.Dimension)
	return nil
}

// TurnCmd runs one turn against the assembled core.
type TurnCmd struct {
	Message string `arg:"" help:"The user message."`

	User    string `help:"User id." default:"local"`
	Project string `help:"Active project id."`
	Profile string `help:"Hermeneutic study profile."`
	Deep    bool   `help:"Use the larger anchor budget."`
	Trace   bool   `help:"Print the turn trace as JSON."`
}

func (c *TurnCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildAssistant(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	result := a.HandleTurn(ctx, &router.Request{
		Message:   c.Message,
		UserID:    c.User,
		ProjectID: c.Project,
		Profile:   c.Profile,
		Deep:      c.Deep,
	}, c.Trace)

	fmt.Println(result.Content)
	if result.Badge != "" {
		fmt.Printf("\n[%s]\n", result.Badge)
	}

	if c.Trace && result.Trace != nil {
		encoded, err := json.MarshalIndent(result.Trace, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode trace: %w", err)
		}
		fmt.Fprintf(os.Stderr, "\n%s\n", encoded)
	}
	return nil
}

// IndexCmd splits a text file into chunks and indexes it.
type IndexCmd struct {
	Path string `arg:"" help:"Text file to index." type:"path"`

	Project string `help:"Project collection to index into; omit for the shared library."`
}

func (c *IndexCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	data, err := os.ReadFile(c.Path)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	a, err := buildAssistant(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	doc := retrieval.Document{
		File:   filepath.Base(c.Path),
		Chunks: chunkText(string(data)),
	}

	var n int
	if c.Project != "" {
		n, err = a.IndexProject(ctx, c.Project, doc)
	} else {
		n, err = a.IndexLibrary(ctx, doc)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d chunks from %s\n", n, doc.File)
	return nil
}

// chunkText splits plain text into paragraph-aligned chunks of roughly
// chunkSize bytes. Page numbers count chunks; plain text has no real
// pagination to preserve.
const chunkSize = 1500

func chunkText(text string) []retrieval.DocumentChunk {
	paragraphs := strings.Split(text, "\n\n")

	var chunks []retrieval.DocumentChunk
	var current strings.Builder
	flush := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			chunks = append(chunks, retrieval.DocumentChunk{Text: trimmed, Page: len(chunks) + 1})
		}
		current.Reset()
	}

	for _, p := range paragraphs {
		if current.Len() > 0 && current.Len()+len(p) > chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()
	return chunks
}

func loadConfig(cli *CLI) (*config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFile != "" {
		cfg.Logging.File = cli.LogFile
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}
	return cfg, nil
}

func buildAssistant(cli *CLI) (*assistant.Assistant, error) {
	cfg, err := loadConfig(cli)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}); err != nil {
		return nil, err
	}
	return assistant.New(cfg)
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("marginalia"),
		kong.Description("A personal research assistant core."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Command chartmesh runs an interactive chart-authoring chat session against
// a configured engine instance.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chartmesh/chartmesh"
	"github.com/chartmesh/chartmesh/engine"
	"github.com/chartmesh/chartmesh/logging"
	"github.com/chartmesh/chartmesh/model"
	"github.com/chartmesh/chartmesh/model/anthropic"
	"github.com/chartmesh/chartmesh/model/openai"
	"github.com/spf13/cobra"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
)

var (
	version   = "0.1.0"
	cfgFile   string
	modelName string
	verbose   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chartmesh",
		Short: "Chat agent for authoring charts with MCP tools",
		Long: `Chartmesh is an interactive chat agent that turns conversation into
chart-authoring tool calls: fetching data, shaping it and rendering charts
through configured tool servers, with approval gating for mutating actions.`,
		RunE: runChat,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", "", "override the configured model id")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "log engine activity to stderr")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chartmesh version %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := engine.DefaultConfig
	if cfgFile != "" {
		loaded, err := engine.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if modelName != "" {
		cfg.Model = modelName
	}

	client, err := buildModelClient(cfg)
	if err != nil {
		return err
	}

	logger := logging.Logger(logging.NoOpLogger{})
	if verbose {
		logger = logging.NewDefaultSlogLogger()
	}

	mesh := chartmesh.New(client, func(o *chartmesh.Options) {
		o.EngineConfig = cfg
		o.Logger = logger
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mesh.ConnectionOpened()
	defer mesh.ConnectionClosed()

	fmt.Printf("chartmesh %s (model %s). Type a message, /approvals, /servers or /quit.\n", version, client.Info().Name)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := runCommand(ctx, mesh, line); done {
				return nil
			}
			continue
		}

		text, err := mesh.ChatSync(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
		}
		if text != "" {
			fmt.Println(text)
		}
	}
}

// runCommand handles slash commands; returns true on /quit.
func runCommand(ctx context.Context, mesh *chartmesh.ChartMesh, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/servers":
		for _, entry := range mesh.Snapshot().Servers {
			state := "disconnected"
			if entry.Connected {
				state = "connected"
			}
			fmt.Printf("  %s\t%s\n", entry.Name, state)
		}
	case "/toggle":
		if len(fields) < 2 {
			fmt.Println("usage: /toggle <server>")
			return false
		}
		res := mesh.ToggleServer(ctx, fields[1])
		if !res.Success {
			fmt.Printf("toggle failed: %s\n", res.Error)
		}
	case "/approvals":
		pending := mesh.ListToolApprovals()
		if len(pending) == 0 {
			fmt.Println("no pending approvals")
		}
		for _, req := range pending {
			fmt.Printf("  %s\t%s\t%s\n", req.ID, req.ToolName, req.ArgsSnippet)
		}
	case "/approve":
		if len(fields) < 2 {
			fmt.Println("usage: /approve <approval-id>")
			return false
		}
		res := mesh.ApproveToolCall(fields[1])
		if !res.Success {
			fmt.Printf("approve failed: %s\n", res.Error)
		}
	case "/reject":
		if len(fields) < 2 {
			fmt.Println("usage: /reject <approval-id> [reason]")
			return false
		}
		res := mesh.RejectToolCall(fields[1], strings.Join(fields[2:], " "))
		if !res.Success {
			fmt.Printf("reject failed: %s\n", res.Error)
		}
	default:
		fmt.Println("commands: /servers /toggle /approvals /approve /reject /quit")
	}
	return false
}

func buildModelClient(cfg engine.Config) (model.Client, error) {
	switch cfg.Provider {
	case "", "anthropic":
		return anthropic.NewClient(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			o.Thinking = cfg.Thinking
		}), nil
	case "openai":
		return openai.NewClient(func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

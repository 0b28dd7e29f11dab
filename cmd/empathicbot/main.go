// EmpathicBot - stage-aware supportive dialogue service
// License: MIT
//
// Copyright (c) 2026 EmpathicBot contributors

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kdf-labs/empathicbot/pkg/agent"
	"github.com/kdf-labs/empathicbot/pkg/analyzer"
	"github.com/kdf-labs/empathicbot/pkg/config"
	"github.com/kdf-labs/empathicbot/pkg/httpapi"
	"github.com/kdf-labs/empathicbot/pkg/logger"
	"github.com/kdf-labs/empathicbot/pkg/memory"
	"github.com/kdf-labs/empathicbot/pkg/observability"
	"github.com/kdf-labs/empathicbot/pkg/profile"
	"github.com/kdf-labs/empathicbot/pkg/providers"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "empathicbot"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo returns build time and go version info
func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".empathicbot", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func onboard() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Println("Aborted.")
			return nil
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	stateDir := filepath.Join(cfg.WorkspacePath(), "state")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your API key to", configPath)
	fmt.Println("     Get one at: https://openrouter.ai/keys")
	fmt.Println("  2. Start the service: empathicbot serve")
	fmt.Println("  3. Chat locally: empathicbot chat")
	fmt.Println("  4. Check readiness: empathicbot status")
	return nil
}

func validateRuntimeConfig(cfg *config.Config) error {
	configPath := getConfigPath()
	switch providers.NormalizeProviderName(cfg.Providers.Generation) {
	case providers.ProviderAnthropic:
		if strings.TrimSpace(cfg.Providers.Anthropic.APIKey) == "" {
			return fmt.Errorf("providers.anthropic.api_key is required in %s or EMPATHICBOT_PROVIDERS_ANTHROPIC_API_KEY", configPath)
		}
	case providers.ProviderOpenRouter:
		if strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) == "" {
			return fmt.Errorf("providers.openrouter.api_key is required in %s or EMPATHICBOT_PROVIDERS_OPENROUTER_API_KEY", configPath)
		}
	}
	return nil
}

// buildRuntime wires the stores, providers, and orchestrator from config.
// The returned cleanup closes both SQLite handles.
func buildRuntime(cfg *config.Config, metrics *observability.Metrics) (*agent.Orchestrator, *profile.SQLiteStore, *memory.Service, func(), error) {
	stateDir := filepath.Join(cfg.WorkspacePath(), "state")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create state dir: %w", err)
	}

	gen, err := providers.CreateGenerator(cfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create generator: %w", err)
	}
	embedder, err := providers.CreateEmbedder(cfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create embedder: %w", err)
	}

	profiles, err := profile.NewSQLiteStore(filepath.Join(stateDir, "profiles.db"), cfg.Stage.MaxInstructions)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open profile store: %w", err)
	}

	memStore, err := memory.NewSQLiteStore(filepath.Join(stateDir, "memory.db"))
	if err != nil {
		_ = profiles.Close()
		return nil, nil, nil, nil, fmt.Errorf("open memory store: %w", err)
	}

	index, err := memory.NewChromemIndex(filepath.Join(stateDir, "vectors"))
	if err != nil {
		_ = profiles.Close()
		_ = memStore.Close()
		return nil, nil, nil, nil, fmt.Errorf("open vector index: %w", err)
	}

	memories, err := memory.NewService(memStore, index, embedder, memory.ServiceConfig{
		TopK:      cfg.Memory.TopK,
		CacheSize: cfg.Memory.EmbeddingCacheSize,
	})
	if err != nil {
		_ = profiles.Close()
		_ = memStore.Close()
		return nil, nil, nil, nil, fmt.Errorf("build memory service: %w", err)
	}

	an := analyzer.New(gen, "")
	orch := agent.NewOrchestrator(profiles, memories, an, gen, metrics, agent.OrchestratorConfig{
		SoftGap:       time.Duration(cfg.Stage.SoftGapMinutes) * time.Minute,
		HardGap:       time.Duration(cfg.Stage.HardResetHours) * time.Hour,
		NotesMaxChars: cfg.Stage.RunningNotesMaxChars,
	})

	cleanup := func() {
		_ = memStore.Close()
		_ = profiles.Close()
	}
	return orch, profiles, memories, cleanup, nil
}

func serveCmd(debug bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug || cfg.Debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("Debug mode enabled")
	}
	if err := validateRuntimeConfig(cfg); err != nil {
		return err
	}

	metrics := observability.NewMetrics(appName, prometheus.DefaultRegisterer)
	orch, profiles, memories, cleanup, err := buildRuntime(cfg, metrics)
	if err != nil {
		return err
	}
	defer cleanup()

	var sweeper *agent.Sweeper
	if cfg.Maintenance.Enabled {
		sweeper = agent.NewSweeper(profiles, memories, agent.SweeperConfig{
			Cron:    cfg.Maintenance.Cron,
			HardGap: time.Duration(cfg.Stage.HardResetHours) * time.Hour,
		})
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("start maintenance sweeper: %w", err)
		}
		fmt.Println("✓ Maintenance sweeper started")
	}

	api := httpapi.NewServer(orch, profiles, memories, httpapi.AllowAllVerifier{})
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("server", "HTTP server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	fmt.Printf("✓ %s listening on http://%s\n", appName, addr)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WarnCF("server", "shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	if sweeper != nil {
		sweeper.Stop()
	}
	fmt.Println("✓ Stopped")
	return nil
}

func statusCmd() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n", formatVersion())
	build, _ := formatBuildInfo()
	if build != "" {
		fmt.Printf("Build: %s\n", build)
	}
	fmt.Println()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗")
	}

	workspace := cfg.WorkspacePath()
	if _, err := os.Stat(workspace); err == nil {
		fmt.Println("Workspace:", workspace, "✓")
	} else {
		fmt.Println("Workspace:", workspace, "✗")
	}
	for _, db := range []string{"profiles.db", "memory.db"} {
		path := filepath.Join(workspace, "state", db)
		if _, err := os.Stat(path); err == nil {
			fmt.Println("Store:", path, "✓")
		} else {
			fmt.Println("Store:", path, "not initialized")
		}
	}

	status := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "not set"
	}
	generation := providers.NormalizeProviderName(cfg.Providers.Generation)
	fmt.Printf("Generation provider: %s\n", generation)
	switch generation {
	case providers.ProviderAnthropic:
		fmt.Printf("Model: %s\n", cfg.Providers.Anthropic.Model)
		fmt.Println("Anthropic API:", status(strings.TrimSpace(cfg.Providers.Anthropic.APIKey) != ""))
	default:
		fmt.Printf("Model: %s\n", cfg.Providers.OpenRouter.Model)
		fmt.Println("OpenRouter API:", status(strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) != ""))
	}
	if cfg.Memory.LocalEmbedder != "" {
		fmt.Printf("Embedder: local (%s)\n", cfg.Memory.LocalEmbedder)
	}
	return nil
}

// chatClient talks to a running serve instance, carrying the session
// parameters between turns the way a Dialogflow agent would.
type chatClient struct {
	baseURL string
	userID  string
	client  *http.Client
	params  map[string]interface{}
}

func newChatClient(baseURL, userID string) *chatClient {
	return &chatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		client:  &http.Client{Timeout: 120 * time.Second},
		params:  map[string]interface{}{"user_id": userID},
	}
}

func (c *chatClient) send(text string) (string, error) {
	payload := map[string]interface{}{
		"session": "local/sessions/" + c.userID,
		"text":    text,
		"sessionInfo": map[string]interface{}{
			"parameters": c.params,
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Post(c.baseURL+"/dialogflow-webhook", "application/json", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		FulfillmentResponse struct {
			Messages []struct {
				Text struct {
					Text []string `json:"text"`
				} `json:"text"`
			} `json:"messages"`
		} `json:"fulfillment_response"`
		SessionInfo struct {
			Parameters map[string]interface{} `json:"parameters"`
		} `json:"session_info"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if decoded.SessionInfo.Parameters != nil {
		c.params = decoded.SessionInfo.Parameters
	}
	for _, m := range decoded.FulfillmentResponse.Messages {
		if len(m.Text.Text) > 0 {
			return m.Text.Text[0], nil
		}
	}
	return "", fmt.Errorf("empty response")
}

func chatCmd(serverURL, userID string) error {
	if strings.TrimSpace(userID) == "" {
		userID = "local_user"
	}
	client := newChatClient(serverURL, userID)

	fmt.Printf("%s Chat with %s (Ctrl+C to exit)\n\n", appName, serverURL)
	interactiveMode(client)
	return nil
}

func interactiveMode(client *chatClient) {
	prompt := fmt.Sprintf("%s You: ", appName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".empathicbot_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})

	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(client)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		if !handleChatLine(client, line) {
			return
		}
	}
}

func simpleInteractiveMode(client *chatClient) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s You: ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		if !handleChatLine(client, line) {
			return
		}
	}
}

func handleChatLine(client *chatClient, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	if input == "exit" || input == "quit" {
		fmt.Println("Goodbye!")
		return false
	}

	reply, err := client.send(input)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return true
	}
	fmt.Printf("\n%s %s\n\n", appName, reply)
	return true
}

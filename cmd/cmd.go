// Package cmd provides CLI commands for quill.
//
// Commands:
//   - ask: One-shot question with a streamed answer
//   - chat: Interactive conversation loop
//   - serve: HTTP API server with SSE streaming
//   - history: List, show, and delete saved exchanges
//
// Signal handling and graceful shutdown are implemented for all commands via
// context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
)

// Execute is the main entry point for the quill CLI application.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "ask":
		return runAsk(os.Args[2:])
	case "chat":
		return runChat(os.Args[2:])
	case "serve":
		return runServe()
	case "history":
		return runHistory(os.Args[2:])
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Quill - conversational search in your terminal")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  quill ask [flags] <question>   Ask one question and stream the answer")
	fmt.Println("  quill chat                     Start an interactive conversation")
	fmt.Println("  quill serve                    Start the HTTP API server")
	fmt.Println("  quill history [show|delete <id>] List, show, or delete saved exchanges")
	fmt.Println("  quill --version                Show version information")
	fmt.Println("  quill --help                   Show this help")
	fmt.Println()
	fmt.Println("Flags for ask:")
	fmt.Println("  -provider <name>   Backend to use: gemini (default) or openai")
	fmt.Println("  -deep              Enable deep research mode (gemini only)")
	fmt.Println()
	fmt.Println("Chat commands (in interactive mode):")
	fmt.Println("  /provider <name>   Switch backend")
	fmt.Println("  /deep on|off       Toggle deep research mode")
	fmt.Println("  /attach <path>     Stage a file for the next question")
	fmt.Println("  /detach            Remove the staged file")
	fmt.Println("  /new               Start a fresh conversation")
	fmt.Println("  /exit, /quit       Leave quill")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY     Gemini API key (grounded search)")
	fmt.Println("  OPENAI_API_KEY     OpenAI-compatible API key (plain chat)")
	fmt.Println("  DATABASE_URL       PostgreSQL connection URL for history")
	fmt.Println("  DEBUG              Enable debug logging")
}

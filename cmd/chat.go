package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/quillhq/quill/internal/conversation"
	"github.com/quillhq/quill/internal/provider"
)

// runChat starts the interactive conversation loop.
func runChat(_ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	store := a.tryStore(ctx)
	m, err := a.manager(store)
	if err != nil {
		return err
	}
	defer m.Close()

	fmt.Printf("quill chat (%s). Type /help for commands.\n", m.Provider())
	if store != nil {
		if summary, err := store.WorkspaceSummary(ctx, defaultWorkspace); err == nil && summary != "" {
			fmt.Println(dimStyle.Render("previously: " + summary))
		}
	}
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if done := chatCommand(m, line); done {
				return nil
			}
			continue
		}

		if err := m.Submit(line); err != nil {
			fmt.Println(errorStyle.Render("error: " + err.Error()))
			continue
		}

		streamToStdout(ctx, m)
		snap := waitIdle(ctx, m)
		fmt.Println()

		switch snap.State {
		case conversation.StateErrored:
			fmt.Println(errorStyle.Render("error: " + snap.Err))
		case conversation.StateCommitted:
			if last := lastModelTurn(snap); last != nil {
				if last.Table != nil {
					fmt.Print(renderTable(last.Table))
				}
				if len(last.Sources) > 0 {
					fmt.Print(renderSources(last.Sources))
				}
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// chatCommand handles a /command line. Returns true when the loop should
// exit.
func chatCommand(m *conversation.Manager, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true

	case "/help":
		fmt.Println("  /provider <name>   Switch backend (gemini, openai)")
		fmt.Println("  /deep on|off       Toggle deep research mode")
		fmt.Println("  /attach <path>     Stage a file for the next question")
		fmt.Println("  /detach            Remove the staged file")
		fmt.Println("  /new               Start a fresh conversation")
		fmt.Println("  /exit, /quit       Leave quill")

	case "/new":
		m.NewChat()
		fmt.Println(dimStyle.Render("started a new conversation"))

	case "/provider":
		if len(fields) < 2 {
			fmt.Printf("current provider: %s\n", m.Provider())
			return false
		}
		if err := m.SelectProvider(fields[1]); err != nil {
			fmt.Println(errorStyle.Render("error: " + err.Error()))
			return false
		}
		fmt.Println(dimStyle.Render("switched to " + fields[1]))

	case "/deep":
		on := len(fields) > 1 && fields[1] == "on"
		m.SetDeep(on)
		if m.Snapshot().Deep != on {
			fmt.Println(errorStyle.Render("deep mode is not supported by the active provider"))
		} else if on {
			fmt.Println(dimStyle.Render("deep research mode on"))
		} else {
			fmt.Println(dimStyle.Render("deep research mode off"))
		}

	case "/attach":
		if len(fields) < 2 {
			fmt.Println(errorStyle.Render("usage: /attach <path>"))
			return false
		}
		if err := attachFile(m, fields[1]); err != nil {
			fmt.Println(errorStyle.Render("error: " + err.Error()))
		} else {
			fmt.Println(dimStyle.Render("attached " + filepath.Base(fields[1])))
		}

	case "/detach":
		m.Detach()
		fmt.Println(dimStyle.Render("attachment removed"))

	default:
		fmt.Println(errorStyle.Render("unknown command: " + fields[0]))
	}
	return false
}

func attachFile(m *conversation.Manager, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > provider.MaxAttachmentSize {
		return conversation.ErrAttachmentTooLarge
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	name := filepath.Base(path)
	return m.Attach(provider.Attachment{
		Name:     name,
		MIMEType: detectMIME(name, data),
		Data:     data,
	})
}

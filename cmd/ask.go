package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quillhq/quill/internal/conversation"
)

// enrichGrace bounds how long ask waits for suggestions and images after the
// answer has been printed.
const enrichGrace = 10 * time.Second

// runAsk asks one question, streams the raw answer to stdout, then reprints
// it rendered with sources, table, and related questions.
func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	providerName := fs.String("provider", "", "backend to use (gemini or openai)")
	deep := fs.Bool("deep", false, "enable deep research mode")
	if err := fs.Parse(args); err != nil {
		return err
	}

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return fmt.Errorf("usage: quill ask [flags] <question>")
	}

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

	if *providerName != "" {
		if err := m.SelectProvider(*providerName); err != nil {
			return err
		}
	}
	m.SetDeep(*deep)

	if err := m.Submit(question); err != nil {
		return err
	}

	printed := streamToStdout(ctx, m)
	snap := waitIdle(ctx, m)

	switch snap.State {
	case conversation.StateErrored:
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+snap.Err))
		return fmt.Errorf("%s", snap.Err)
	case conversation.StateCancelled:
		fmt.Println()
		return nil
	}

	// Give enrichment a moment, then reprint the rendered answer.
	snap = waitEnriched(ctx, m, enrichGrace)
	if printed {
		fmt.Println()
	}
	if last := lastModelTurn(snap); last != nil {
		fmt.Print(renderTurn(*last))
	}
	return nil
}

// streamToStdout prints text deltas as they arrive until the turn settles.
// Returns whether anything was printed.
func streamToStdout(ctx context.Context, m *conversation.Manager) bool {
	var printed int
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap := m.Snapshot()
		if last := lastModelTurn(snap); last != nil && len(last.Content) > printed {
			fmt.Print(last.Content[printed:])
			printed = len(last.Content)
		}
		if !snap.State.Busy() {
			return printed > 0
		}
		select {
		case <-ctx.Done():
			m.Stop()
			return printed > 0
		case <-m.Events():
		case <-ticker.C:
		}
	}
}

// waitEnriched waits briefly for related questions and images to land.
func waitEnriched(ctx context.Context, m *conversation.Manager, grace time.Duration) conversation.Snapshot {
	deadline := time.After(grace)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap := m.Snapshot()
		last := lastModelTurn(snap)
		if last == nil || enrichmentSettled(last) {
			return snap
		}
		select {
		case <-ctx.Done():
			return snap
		case <-deadline:
			return snap
		case <-m.Events():
		case <-ticker.C:
		}
	}
}

// enrichmentSettled reports whether both post-commit passes have finished for
// a turn. A turn without sources never gets an image pass, and the suggestion
// attempt counts as finished even when it produced nothing.
func enrichmentSettled(t *conversation.Turn) bool {
	imagesDone := t.ImagesResolved || len(t.Sources) == 0
	return imagesDone && t.RelatedResolved
}

func lastModelTurn(snap conversation.Snapshot) *conversation.Turn {
	for i := len(snap.Turns) - 1; i >= 0; i-- {
		if snap.Turns[i].Role == conversation.RoleModel {
			return &snap.Turns[i]
		}
	}
	return nil
}

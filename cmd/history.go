package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
)

const historyListLimit = 20

// runHistory lists saved exchanges, shows one, or deletes one:
//
//	quill history
//	quill history show <id>
//	quill history delete <id>
func runHistory(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.connectStore(ctx)
	if err != nil {
		return err
	}

	if len(args) > 0 && args[0] == "show" {
		if len(args) < 2 {
			return fmt.Errorf("usage: quill history show <id>")
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid record id: %w", err)
		}
		rec, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n\n", dimStyle.Render(rec.CreatedAt.Format("2006-01-02 15:04")), rec.Query)
		fmt.Println(renderTurn(rec.Turn))
		return nil
	}

	if len(args) > 0 && args[0] == "delete" {
		if len(args) < 2 {
			return fmt.Errorf("usage: quill history delete <id>")
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid record id: %w", err)
		}
		if err := store.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Println("deleted", id)
		return nil
	}

	records, err := store.ListRecent(ctx, historyListLimit, 0)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no saved exchanges")
		return nil
	}

	for _, rec := range records {
		fmt.Printf("%s  %s  %s\n",
			dimStyle.Render(rec.CreatedAt.Format("2006-01-02 15:04")),
			dimStyle.Render(rec.ID.String()),
			rec.Query)
	}
	return nil
}

package main

import (
	"chat-relay/domain"
	"chat-relay/repositories"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

// inspect prints what the relay stored, without the relay running or while it runs.
func main() {
	dbPath := flag.String("db", os.Getenv("BADGER_FILEPATH"), "Path to badger DB")
	room := flag.String("room", "", "Room to print the history of, every room count when empty")
	limit := flag.Int("limit", repositories.DefaultHistoryLimit, "Number of messages to print")
	flag.Parse()

	if err := run(*dbPath, domain.RoomName(*room), *limit); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath string, room domain.RoomName, limit int) error {
	if dbPath == "" {
		return fmt.Errorf("missing -db or BADGER_FILEPATH")
	}
	db, err := badger.Open(badger.DefaultOptions(dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLogger(nil))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	repository := repositories.NewMessageRepository(db, logs.GetLoggerFromLevel(slog.LevelWarn))
	ctx := context.Background()

	table := newTable()
	if room == "" {
		rooms, err := repository.Rooms(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(rooms))
		for name := range rooms {
			names = append(names, name.String())
		}
		sort.Strings(names)

		table.SetHeader([]string{"Room", "Messages"})
		for _, name := range names {
			table.Append([]string{name, strconv.Itoa(rooms[domain.RoomName(name)])})
		}
		table.Render()
		return nil
	}

	messages, err := repository.History(ctx, room, limit)
	if err != nil {
		return err
	}
	table.SetHeader([]string{"Created", "ID", "Username", "Message", "Color"})
	for _, m := range messages {
		table.Append([]string{
			m.CreatedAt.Local().Format(time.DateTime),
			m.ID.String()[:8],
			m.Username,
			m.Body,
			m.Color,
		})
	}
	table.Render()
	return nil
}

func newTable() *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

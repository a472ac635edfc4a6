package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quayside/daybook/internal/client"
	"github.com/quayside/daybook/internal/importer"
	"github.com/quayside/daybook/internal/tasklist"
	"github.com/quayside/daybook/internal/tasks"
)

func printTasks(w io.Writer, records []tasks.Task) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no tasks")
		return
	}
	for index, record := range records {
		mark := " "
		if record.Completed {
			mark = "x"
		}
		fmt.Fprintf(w, "%3d. [%s] %s (#%d)\n", index+1, mark, record.Text, record.ID)
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks in display order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			records, err := apiClient.ListTasks(cmd.Context())
			if err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), records)
			return nil
		},
	}
}

func newAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <text>...",
		Short: "Add a task at the end of the list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			record, err := apiClient.CreateTask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added #%d %q\n", record.ID, record.Text)
			return nil
		},
	}
}

func newToggleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip a task between open and completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			list, err := loadedTaskList(cmd.Context(), apiClient)
			if err != nil {
				return err
			}
			record, err := list.Toggle(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			state := "open"
			if record.Completed {
				state = "completed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "#%d is now %s\n", record.ID, state)
			return nil
		},
	}
}

func newEditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> <text>...",
		Short: "Rewrite a task's text",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			list, err := loadedTaskList(cmd.Context(), apiClient)
			if err != nil {
				return err
			}
			record, err := list.Edit(cmd.Context(), taskID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "#%d is now %q\n", record.ID, record.Text)
			return nil
		},
	}
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			list, err := loadedTaskList(cmd.Context(), apiClient)
			if err != nil {
				return err
			}
			if err := list.Remove(cmd.Context(), taskID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed #%d\n", taskID)
			return nil
		},
	}
}

func newMoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "move <from> <to>",
		Short: "Move a task to another list position",
		Long: "Move takes the 1-based positions printed by \"daybook list\" and " +
			"splices the task from one position to the other.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parseListIndex(args[0])
			if err != nil {
				return err
			}
			dst, err := parseListIndex(args[1])
			if err != nil {
				return err
			}
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			list, err := loadedTaskList(cmd.Context(), apiClient)
			if err != nil {
				return err
			}
			if err := list.Move(cmd.Context(), src, dst); err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), list.Snapshot())
			return nil
		},
	}
}

func newExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export tasks as CSV",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return apiClient.ExportTasks(cmd.Context(), cmd.OutOrStdout())
			}
			file, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := apiClient.ExportTasks(cmd.Context(), file); err != nil {
				file.Close()
				return err
			}
			return file.Close()
		},
	}
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Create tasks in bulk from a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			document, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			count, err := importer.Import(cmd.Context(), apiClient, document)
			if count > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d task(s)\n", count)
			}
			return err
		},
	}
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow live task changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			list, err := loadedTaskList(cmd.Context(), apiClient)
			if err != nil {
				return err
			}
			printTasks(out, list.Snapshot())

			feed, err := client.NewFeed(client.FeedConfig{
				Client: apiClient,
				OnEvent: func(event tasklist.Event) {
					list.HandleEvent(event)
					fmt.Fprintf(out, "%s #%d %q\n", event.Kind, event.Task.ID, event.Task.Text)
				},
				OnState: func(state client.FeedState) {
					list.HandleState(state)
					fmt.Fprintf(out, "stream: %s\n", state)
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

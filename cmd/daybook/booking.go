package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quayside/daybook/internal/appointments"
)

func parseTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (expected RFC 3339, e.g. 2026-09-01T10:00:00Z)", value)
	}
	return parsed, nil
}

func printAppointment(w io.Writer, record appointments.Appointment) {
	fmt.Fprintf(w, "%s  %s - %s  %-9s %s\n",
		record.ID,
		record.StartsAt.Format("2006-01-02 15:04"),
		record.EndsAt.Format("15:04"),
		record.Status,
		record.Title)
	for _, note := range record.Notes {
		fmt.Fprintf(w, "    note: %s\n", note.Body)
	}
}

func newBookCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "book <title> <start> <end>",
		Short: "Book an appointment",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			startsAt, err := parseTime(args[1])
			if err != nil {
				return err
			}
			endsAt, err := parseTime(args[2])
			if err != nil {
				return err
			}
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			record, err := apiClient.CreateAppointment(cmd.Context(), args[0], startsAt, endsAt)
			if err != nil {
				return err
			}
			printAppointment(cmd.OutOrStdout(), record)
			return nil
		},
	}
}

func newSlotsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "slots <day>",
		Short: "List free booking slots for a day (YYYY-MM-DD)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			slots, err := apiClient.Slots(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(slots) == 0 {
				fmt.Fprintln(out, "no free slots")
				return nil
			}
			for _, slot := range slots {
				fmt.Fprintf(out, "%s - %s\n",
					slot.StartsAt.Format("2006-01-02 15:04"),
					slot.EndsAt.Format("15:04"))
			}
			return nil
		},
	}
}

func newAppointmentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appointments",
		Short: "List visible appointments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := cmd.Flags().GetString("day")
			if err != nil {
				return err
			}
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			records, err := apiClient.ListAppointments(cmd.Context(), day)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "no appointments")
				return nil
			}
			for _, record := range records {
				printAppointment(out, record)
			}
			return nil
		},
	}
	cmd.Flags().String("day", "", "Narrow the listing to one day (YYYY-MM-DD)")
	return cmd
}

func newRescheduleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reschedule <id> <start> <end>",
		Short: "Move an appointment to a new interval",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			startsAt, err := parseTime(args[1])
			if err != nil {
				return err
			}
			endsAt, err := parseTime(args[2])
			if err != nil {
				return err
			}
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			record, err := apiClient.RescheduleAppointment(cmd.Context(), args[0], startsAt, endsAt)
			if err != nil {
				return err
			}
			printAppointment(cmd.OutOrStdout(), record)
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <pending|confirmed|completed|cancelled>",
		Short: "Set an appointment's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			record, err := apiClient.SetAppointmentStatus(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printAppointment(cmd.OutOrStdout(), record)
			return nil
		},
	}
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an appointment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			record, err := apiClient.SetAppointmentStatus(cmd.Context(), args[0], string(appointments.StatusCancelled))
			if err != nil {
				return err
			}
			printAppointment(cmd.OutOrStdout(), record)
			return nil
		},
	}
}

func newNoteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "note <id> <body>...",
		Short: "Attach a note to an appointment (administrators only)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			note, err := apiClient.AddAppointmentNote(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "noted %s: %s\n", note.AppointmentID, note.Body)
			return nil
		},
	}
}

package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/zulandar/ridechat/internal/chat"
	"github.com/zulandar/ridechat/internal/db"
	"github.com/zulandar/ridechat/internal/transcript"
)

func newHistoryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "history [booking-id]",
		Short: "Show cached transcripts",
		Long:  "Without arguments lists every cached booking. With a booking id prints its transcript from the local store.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, configPath, args)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ridechat.yaml", "path to ridechat config file")
	return cmd
}

func runHistory(cmd *cobra.Command, configPath string, args []string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	store, err := transcript.NewStore(transcript.StoreOpts{DB: gormDB})
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 0 {
		summaries, err := store.Bookings()
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Fprintln(out, "No cached transcripts.")
			return nil
		}
		fmt.Fprintf(out, "%-12s %-8s %s\n", "BOOKING", "MSGS", "LAST MESSAGE")
		for _, s := range summaries {
			fmt.Fprintf(out, "%-12d %-8d %s\n", s.BookingID, s.MessageCount, s.LastSentAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	}

	bookingID, err := parseBookingID(args[0])
	if err != nil {
		return err
	}
	msgs, err := store.Load(bookingID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintf(out, "No cached messages for booking %d.\n", bookingID)
		return nil
	}
	printTranscript(out, msgs, cfg.LocalUserID)
	return nil
}

func printTranscript(w io.Writer, msgs []chat.Message, localUserID int64) {
	for _, m := range msgs {
		fmt.Fprintln(w, formatMessage(m, localUserID))
	}
}

func parseBookingID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid booking id %q", s)
	}
	return id, nil
}

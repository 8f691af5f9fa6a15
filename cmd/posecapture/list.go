package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/posecapture/internal/pose"
	"github.com/ayusman/posecapture/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored enrollments",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.New(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		enrollments, err := st.Enrollments().List()
		if err != nil {
			return fmt.Errorf("failed to list enrollments: %w", err)
		}
		printEnrollments(enrollments)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func printEnrollments(enrollments []*store.Enrollment) {
	if len(enrollments) == 0 {
		fmt.Println("No enrollments found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tPOSES\tDURATION\tCOMPLETED")
	fmt.Fprintln(w, "--\t-----\t--------\t---------")

	for _, e := range enrollments {
		seq, err := pose.NewSequence(e.Poses...)
		poses := fmt.Sprint(e.Poses)
		if err == nil {
			poses = seq.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.ID,
			poses,
			e.CompletedAt.Sub(e.StartedAt).Round(100*time.Millisecond),
			e.CompletedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	w.Flush()
}

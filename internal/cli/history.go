package cli

import (
	"fmt"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/spf13/cobra"
)

func newHistoryCmd(st *state) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "history [filter]",
		Short: "Show recent queries, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sess := st.loadSession()
			if reset {
				sess.Clear()
				if err := st.writeSession(sess); err != nil {
					return err
				}
				st.printer().Message("History cleared.")
				return nil
			}

			entries := sess.History
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				entries = filterHistory(entries, args[0])
			}
			if st.jsonOutput {
				return st.printer().JSON(entries)
			}
			for i, q := range entries {
				fmt.Fprintf(st.out, "%2d  %s\n", i+1, q)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "clear", false, "forget history and the last results")
	return cmd
}

// filterHistory keeps entries fuzzily matching filter, in history order.
func filterHistory(entries []string, filter string) []string {
	return fuzzy.FindFold(strings.TrimSpace(filter), entries)
}

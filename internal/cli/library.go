package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLibraryCmd(st *state) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "library",
		Short: "List transcoded tracks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := st.service()
			if err != nil {
				return err
			}
			tracks, err := svc.Tracks(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			p := st.printer()
			if st.jsonOutput {
				return p.JSON(tracks)
			}
			if len(tracks) == 0 {
				p.Message("No transcoded tracks yet.")
				return nil
			}
			for _, t := range tracks {
				fmt.Fprintf(st.out, "%s  %-*s  %s\n",
					t.CreatedAt.Local().Format("2006-01-02 15:04"),
					p.titleWidth, truncateText(t.Title, p.titleWidth),
					t.FilePath,
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "max", 50, "maximum tracks to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "tracks to skip")
	return cmd
}

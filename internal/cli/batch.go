package cli

import (
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/lvcoi/dgetmusic/internal/app"
)

func newBatchCmd(st *state) *cobra.Command {
	var flags resolveFlags
	cmd := &cobra.Command{
		Use:     "batch <item>[, item...]",
		Short:   "Resolve comma-separated URLs and queries one after another",
		Example: `  dgetmusic batch "https://youtu.be/dQw4w9WgXcQ, daft punk around the world"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := st.service()
			if err != nil {
				return err
			}
			sess := st.loadSession()
			defer st.saveSession(sess)

			opts, err := flags.options(st)
			if err != nil {
				return err
			}
			p := st.printer()
			observe := func(ev app.Event) {
				if st.jsonOutput || ev.Type != app.EventItemDone || ev.Result == nil {
					return
				}
				p.ItemResult(p.Prefix(ev.Index+1, ev.Total, ev.Item), *ev.Result)
			}

			results, code := svc.Batch(cmd.Context(), sess, strings.Join(args, ","), opts, observe)
			if st.jsonOutput {
				if err := p.JSON(results); err != nil {
					return err
				}
			} else {
				failed := lo.CountBy(results, func(r app.Result) bool { return r.Err != nil })
				p.Summary(len(results), len(results)-failed, failed)
			}
			if code != 0 {
				return exitError{code: code}
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lvcoi/dgetmusic/internal/resolver"
)

func newSearchCmd(st *state) *cobra.Command {
	var (
		pick  bool
		flags resolveFlags
	)
	cmd := &cobra.Command{
		Use:     "search <query>",
		Short:   "List candidates for a search query",
		Example: "  dgetmusic search daft punk one more time --pick",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := st.service()
			if err != nil {
				return err
			}
			sess := st.loadSession()
			defer st.saveSession(sess)

			query := strings.Join(args, " ")
			candidates, err := svc.Search(cmd.Context(), sess, query)
			if err != nil {
				return err
			}
			return st.emitCandidates(cmd.Context(), svc, sess, "Results for "+query, candidates, pick, &flags)
		},
	}
	cmd.Flags().BoolVarP(&pick, "pick", "p", false, "choose a result interactively and resolve it")
	flags.register(cmd)
	return cmd
}

func newPlayCmd(st *state) *cobra.Command {
	var (
		noPick bool
		flags  resolveFlags
	)
	cmd := &cobra.Command{
		Use:   "play <query or url>",
		Short: "Resolve a URL, preview a playlist, or offer the top search hits",
		Args:  cobra.MinimumNArgs(1),
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
			input := strings.Join(args, " ")
			result, err := svc.Play(cmd.Context(), sess, input, opts)
			if err != nil {
				return err
			}
			if result.Stream != nil {
				return st.emitStream(*result.Stream)
			}
			title := "Top results"
			if result.Kind == resolver.KindPlaylistURL.String() {
				title = "Playlist"
			}
			return st.emitCandidates(cmd.Context(), svc, sess, title, result.Candidates, !noPick, &flags)
		},
	}
	cmd.Flags().BoolVar(&noPick, "no-pick", false, "print candidates instead of choosing one")
	flags.register(cmd)
	return cmd
}

func newPlaylistCmd(st *state) *cobra.Command {
	var (
		all   bool
		pick  bool
		flags resolveFlags
	)
	cmd := &cobra.Command{
		Use:   "playlist <url>",
		Short: "Preview the first entries of a playlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := st.service()
			if err != nil {
				return err
			}
			url := strings.TrimSpace(args[0])
			if all {
				urls, err := svc.ExpandPlaylist(cmd.Context(), url)
				if err != nil {
					return err
				}
				if st.jsonOutput {
					return st.printer().JSON(urls)
				}
				for _, u := range urls {
					fmt.Fprintln(st.out, u)
				}
				return nil
			}

			sess := st.loadSession()
			defer st.saveSession(sess)
			candidates, err := svc.Playlist(cmd.Context(), sess, url)
			if err != nil {
				return err
			}
			return st.emitCandidates(cmd.Context(), svc, sess, "Playlist", candidates, pick, &flags)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "print every member URL instead of a preview")
	cmd.Flags().BoolVarP(&pick, "pick", "p", false, "choose an entry interactively and resolve it")
	flags.register(cmd)
	return cmd
}

package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lvcoi/dgetmusic/internal/app"
	"github.com/lvcoi/dgetmusic/internal/resolver"
	"github.com/lvcoi/dgetmusic/internal/session"
)

// resolveFlags are shared by every command that ends in a resolution.
type resolveFlags struct {
	cookies   string
	consent   bool
	transcode bool
}

func (f *resolveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.cookies, "user-cookies", "", "your own cookies.txt, used only if the media is restricted")
	cmd.Flags().BoolVar(&f.consent, "consent", false, "allow --user-cookies without asking")
	cmd.Flags().BoolVar(&f.transcode, "transcode", false, "download and transcode to a local audio file")
}

// options reads the user's cookies. With --consent every attempt of this
// invocation that reaches the user tier is approved without asking.
func (f *resolveFlags) options(st *state) (app.ResolveOptions, error) {
	cookies, err := st.readUserCookies(f.cookies)
	if err != nil {
		return app.ResolveOptions{}, err
	}
	prompt := st.consentPrompter()
	if f.consent {
		prompt = resolver.PrompterFunc(func(string) bool { return true })
	}
	opts := app.ResolveOptions{
		UserCookies: cookies,
		Prompt:      prompt,
	}
	if f.transcode {
		opts.Strategy = resolver.DownloadAndTranscode
	}
	return opts, nil
}

func newResolveCmd(st *state) *cobra.Command {
	var flags resolveFlags
	cmd := &cobra.Command{
		Use:   "resolve <url>",
		Short: "Resolve a media URL to a playable audio stream",
		Args:  cobra.ExactArgs(1),
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
			stream, err := svc.Resolve(cmd.Context(), sess, strings.TrimSpace(args[0]), opts)
			if err != nil {
				return err
			}
			return st.emitStream(stream)
		},
	}
	flags.register(cmd)
	return cmd
}

func (st *state) emitStream(stream resolver.StreamResult) error {
	p := st.printer()
	if st.jsonOutput {
		return p.JSON(stream)
	}
	p.Stream(stream)
	return nil
}

// emitCandidates prints candidates, or lets the user pick one and resolves
// it when pick is set and stdin is a terminal.
func (st *state) emitCandidates(ctx context.Context, svc *app.Service, sess *session.Session, title string, candidates []resolver.Candidate, pick bool, flags *resolveFlags) error {
	p := st.printer()
	if len(candidates) == 0 {
		if st.jsonOutput {
			return p.JSON(candidates)
		}
		p.Message(resolver.MessageNoResults)
		return nil
	}
	if !pick || st.jsonOutput || !st.isTTY() {
		if st.jsonOutput {
			return p.JSON(candidates)
		}
		p.Candidates(candidates)
		return nil
	}

	idx, err := st.pick(title, candidates)
	if err != nil {
		return err
	}
	chosen, ok := sess.Select(idx)
	if !ok {
		p.Message("Nothing selected.")
		return nil
	}
	opts, err := flags.options(st)
	if err != nil {
		return err
	}
	stream, err := svc.Resolve(ctx, sess, chosen.CanonicalURL, opts)
	if err != nil {
		return err
	}
	return st.emitStream(stream)
}

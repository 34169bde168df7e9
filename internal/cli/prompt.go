package cli

import (
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/lvcoi/dgetmusic/internal/resolver"
	"github.com/lvcoi/dgetmusic/internal/tui"
)

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func surveyConfirm(message string) (bool, error) {
	confirm := survey.Confirm{
		Message: message,
		Default: false,
	}
	var response bool
	err := survey.AskOne(&confirm, &response, survey.WithStdio(os.Stdin, os.Stderr, os.Stderr))
	return response, err
}

func tuiPick(title string, candidates []resolver.Candidate) (int, error) {
	return tui.Pick(title, candidates)
}

// consentPrompter asks once per restricted attempt before the user's own
// cookies are applied. Without a terminal it always declines.
func (st *state) consentPrompter() resolver.Prompter {
	return resolver.PrompterFunc(func(url string) bool {
		if !st.isTTY() {
			return false
		}
		ok, err := st.ask(fmt.Sprintf("%s is restricted. Use your cookies for this attempt?", url))
		if err != nil {
			st.log.Debug("consent prompt failed", zap.Error(err))
			return false
		}
		return ok
	})
}

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/lvcoi/dgetmusic/internal/credstore"
	"github.com/lvcoi/dgetmusic/internal/resolver"
)

// keyring is the credstore keyring surface, replaced in tests.
var keyring = struct {
	save   func([]byte) error
	delete func() error
}{
	save:   credstore.SaveToKeyring,
	delete: credstore.DeleteFromKeyring,
}

func newCredentialsCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the operator's stored cookies",
	}
	cmd.AddCommand(newCredentialsSetCmd(st), newCredentialsDeleteCmd(st), newCredentialsShowCmd(st))
	return cmd
}

func newCredentialsSetCmd(st *state) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store a cookies.txt file in the system keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" && st.isTTY() {
				prompt := survey.Input{Message: "Path to cookies.txt:"}
				if err := survey.AskOne(&prompt, &file, survey.WithValidator(survey.Required)); err != nil {
					return err
				}
			}
			file = strings.TrimSpace(file)
			if file == "" {
				return resolver.CategorizedError{Category: resolver.CategoryInvalidInput, Err: errors.New("--file is required")}
			}
			blob, err := afero.ReadFile(st.fs, file)
			if err != nil {
				return resolver.CategorizedError{Category: resolver.CategoryInvalidInput, Err: fmt.Errorf("read cookies: %w", err)}
			}
			if err := keyring.save(blob); err != nil {
				return resolver.CategorizedError{Category: resolver.CategoryInvalidInput, Err: fmt.Errorf("store cookies: %w", err)}
			}
			st.printer().Message("Stored cookies in the system keyring. Run with --keyring to use them.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Netscape cookies.txt to store")
	return cmd
}

func newCredentialsDeleteCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove stored cookies from the system keyring",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := keyring.delete(); err != nil {
				return err
			}
			st.printer().Message("Removed stored cookies.")
			return nil
		},
	}
}

type credentialStatus struct {
	Configured bool   `json:"configured"`
	Origin     string `json:"origin,omitempty"`
	Proxy      bool   `json:"proxy"`
}

func newCredentialsShowCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Report whether a stored credential is configured",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if _, err := st.service(); err != nil {
				return err
			}
			status := credentialStatus{
				Configured: st.store.Configured(),
				Origin:     st.store.Origin(),
				Proxy:      st.store.Proxy() != "",
			}
			p := st.printer()
			if st.jsonOutput {
				return p.JSON(status)
			}
			if !status.Configured {
				fmt.Fprintln(st.out, "stored credential: none")
			} else {
				fmt.Fprintf(st.out, "stored credential: %s\n", status.Origin)
			}
			fmt.Fprintf(st.out, "proxy: %t\n", status.Proxy)
			return nil
		},
	}
}

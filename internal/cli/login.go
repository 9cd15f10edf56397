package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lmikhailov/coderoom/internal/apiclient"
)

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Obtain an identity token",
	Long: `Exchange an email address for an identity token.

The token is printed to stdout; export it as CODEROOM_TOKEN or pass it via
--token to the other commands.

Example:
  export CODEROOM_TOKEN=$(coderoom login dev@example.com)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := apiclient.New(flagServer)
		user, err := api.Login(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "logged in as %s (%s)\n", user.Email, user.ID)
		fmt.Fprintln(cmd.OutOrStdout(), api.Token())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lmikhailov/coderoom/internal/apiclient"
	"github.com/lmikhailov/coderoom/internal/domain"
)

var createCmd = &cobra.Command{
	Use:   "create [roomId]",
	Short: "Create a room",
	Long: `Create a room, optionally with a chosen id. Without an argument the
server generates one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := authedClient()
		if err != nil {
			return err
		}
		var id domain.RoomID
		if len(args) == 1 {
			id = domain.RoomID(args[0])
		}
		room, err := api.CreateRoom(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), room.ID)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <roomId>",
	Short: "Delete a room (creator only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := authedClient()
		if err != nil {
			return err
		}
		if err := api.DeleteRoom(cmd.Context(), domain.RoomID(args[0])); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "room deleted")
		return nil
	},
}

func authedClient() (*apiclient.Client, error) {
	if flagToken == "" {
		return nil, fmt.Errorf("no token: run `coderoom login` first")
	}
	api := apiclient.New(flagServer)
	api.SetToken(flagToken)
	return api, nil
}

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(deleteCmd)
}

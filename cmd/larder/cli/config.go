package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/felixgeelhaar/larder/internal/credential"
)

func newConfigCmd(v *viper.Viper) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage stored settings such as API keys",
	}

	setCmd := &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Store a setting (keys ending in api_key are encrypted)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := openSettings(v)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.SetConfig(args[0], args[1]); err != nil {
				return fmt.Errorf("failed to set config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s\n", args[0])
			return nil
		},
	}

	var reveal bool
	getCmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Show a stored setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := openSettings(v)
			if err != nil {
				return err
			}
			defer s.Close()

			val, err := s.GetConfig(args[0])
			if err != nil {
				return err
			}
			switch {
			case val == "":
				val = "(not set)"
			case credential.IsSecretKey(args[0]) && !reveal:
				val = credential.MaskSecret(val)
			}
			fmt.Fprintln(cmd.OutOrStdout(), val)
			return nil
		},
	}
	getCmd.Flags().BoolVar(&reveal, "reveal", false, "print secrets unmasked")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored setting keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := openSettings(v)
			if err != nil {
				return err
			}
			defer s.Close()

			keys, err := s.ListConfig()
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}

	configCmd.AddCommand(setCmd, getCmd, listCmd)
	return configCmd
}

package cli

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/felixgeelhaar/larder/internal/engine"
)

func newVerifyCmd(v *viper.Viper) *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that ledgers and vector indexes hold the same entries",
		Long: `Verify compares the entry ids in each user's ledger with those in the
vector index. Users are selected with --users, a glob such as "a*" or
"{alice,bob}"; the default is the --user flag, or every user when unset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, v)
			if err != nil {
				return err
			}
			defer app.Close()

			if pattern == "" {
				pattern = "*"
				if app.Config.User != "" {
					pattern = app.Config.User
				}
			}
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("invalid user pattern %q", pattern)
			}

			users, err := app.Engine.Users()
			if err != nil {
				return err
			}

			var reports []engine.Report
			for _, u := range users {
				if ok, _ := doublestar.Match(pattern, u); !ok {
					continue
				}
				r, err := app.Engine.Verify(u)
				if err != nil {
					return fmt.Errorf("user %s: %w", u, err)
				}
				reports = append(reports, r)
			}

			var drift int
			for _, r := range reports {
				if !r.Consistent() {
					drift++
				}
			}

			if app.Config.JSON {
				if reports == nil {
					reports = []engine.Report{}
				}
				if err := app.JSON(reports); err != nil {
					return err
				}
			} else {
				app.UI.Title(fmt.Sprintf("Verified %d users", len(reports)))
				for _, r := range reports {
					line := fmt.Sprintf("%s: %d entries, %d vectors", r.User, r.Entries, r.Vectors)
					if r.Consistent() {
						app.UI.Info(line)
						continue
					}
					app.UI.Error(line)
					if len(r.LedgerOnly) > 0 {
						app.UI.Detail("  not indexed: " + strings.Join(r.LedgerOnly, ", "))
					}
					if len(r.IndexOnly) > 0 {
						app.UI.Detail("  not in ledger: " + strings.Join(r.IndexOnly, ", "))
					}
				}
			}

			if drift > 0 {
				return fmt.Errorf("%d of %d users are inconsistent", drift, len(reports))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "users", "", "glob selecting the users to verify")
	return cmd
}

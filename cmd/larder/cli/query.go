package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/felixgeelhaar/larder/internal/assistant"
	"github.com/felixgeelhaar/larder/internal/retrieval"
)

func newSearchCmd(v *viper.Viper) *cobra.Command {
	var (
		topK     int
		from, to string
		auto     bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Rank logged entries by similarity to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			app, err := newApp(cmd, v)
			if err != nil {
				return err
			}
			defer app.Close()

			user, err := app.User()
			if err != nil {
				return err
			}

			now := time.Now()
			var r *retrieval.DateRange
			switch {
			case from != "" || to != "":
				start, err := parseDay(from, now)
				if err != nil {
					return err
				}
				end, err := parseDay(to, now)
				if err != nil {
					return err
				}
				r = &retrieval.DateRange{Start: start, End: end}
			case auto:
				if parsed, ok := retrieval.ParseDateRange(query, now); ok {
					r = &parsed
				}
			}

			results, err := app.Engine.Search(cmd.Context(), user, query, r, topK)
			if err != nil {
				return err
			}
			if app.Config.JSON {
				if results == nil {
					results = []retrieval.Result{}
				}
				return app.JSON(results)
			}

			title := fmt.Sprintf("%d matches for %q", len(results), query)
			if r != nil {
				title += " in " + r.String()
			}
			app.UI.Title(title)
			for _, res := range results {
				app.UI.Print(fmt.Sprintf("%.4f  %s  %s (%d kcal)", res.Similarity, res.Date, res.FoodName, res.Calories))
				app.UI.Detail("        " + res.EntryID)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&topK, "top-k", "k", retrieval.DefaultTopK, "maximum number of results")
	f.StringVar(&from, "from", "", "only entries on or after this day")
	f.StringVar(&to, "to", "", "only entries on or before this day")
	f.BoolVar(&auto, "auto-range", false, "derive the date range from phrases like \"last week\"")
	return cmd
}

func newContextCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "context [question]",
		Short: "Print the food-log context retrieved for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, v)
			if err != nil {
				return err
			}
			defer app.Close()

			user, err := app.User()
			if err != nil {
				return err
			}
			out, err := app.Engine.Query(cmd.Context(), user, strings.Join(args, " "))
			if err != nil {
				return err
			}
			app.UI.Print(out)
			return nil
		},
	}
}

func newAskCmd(v *viper.Viper) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the nutrition assistant, grounded in your food log",
		Long: `Ask sends a question to the chat model. The conversation is kept in the
settings database, so follow-up questions see earlier answers. Use --reset
to start over.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if reset {
				return nil
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, v)
			if err != nil {
				return err
			}
			defer app.Close()

			user, err := app.User()
			if err != nil {
				return err
			}
			if reset {
				a := assistant.New(app.Engine, app.Chat, app.Observer, assistant.WithHistoryStore(app.Settings))
				if a.Reset(user) {
					app.UI.Info("Conversation cleared for " + user)
				} else {
					app.UI.Detail("no conversation to clear")
				}
				if len(args) == 0 {
					return nil
				}
			}

			a, err := app.Assistant()
			if err != nil {
				return err
			}
			answer, err := a.Ask(cmd.Context(), user, strings.Join(args, " "))
			if err != nil {
				return err
			}
			app.UI.Print(answer)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "forget the conversation before asking")
	return cmd
}

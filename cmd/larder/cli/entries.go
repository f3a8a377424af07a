package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/felixgeelhaar/larder/internal/entry"
)

func newLogCmd(v *viper.Viper) *cobra.Command {
	var (
		date  string
		draft entry.Draft
	)
	var (
		food, quantity, review, meal          string
		calories, protein, carbs, fats, fiber float64
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Log a food entry",
		Example: `  larder log -u alice --food "Greek yogurt" --calories 150 --protein 15 --meal breakfast
  larder log -u alice --date yesterday --food Banana --text "a ripe banana"`,
		Args: cobra.NoArgs,
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
			day, err := parseDay(date, time.Now())
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			strs := map[string]struct {
				src string
				dst **string
			}{
				"food":     {food, &draft.FoodName},
				"quantity": {quantity, &draft.Quantity},
				"review":   {review, &draft.Review},
				"meal":     {meal, &draft.MealType},
			}
			for name, f := range strs {
				if flags.Changed(name) {
					s := f.src
					*f.dst = &s
				}
			}
			nums := map[string]struct {
				src float64
				dst **float64
			}{
				"calories": {calories, &draft.Calories},
				"protein":  {protein, &draft.Protein},
				"carbs":    {carbs, &draft.Carbs},
				"fats":     {fats, &draft.Fats},
				"fiber":    {fiber, &draft.Fiber},
			}
			for name, f := range nums {
				if flags.Changed(name) {
					n := f.src
					*f.dst = &n
				}
			}

			id, err := app.Engine.StoreDraft(cmd.Context(), user, draft, day)
			if err != nil {
				return err
			}
			app.UI.Info(fmt.Sprintf("Logged %s on %s", id, day.Format(entry.DateLayout)))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&date, "date", "today", "day of the entry (YYYY-MM-DD, today, yesterday)")
	f.StringVar(&draft.EntryID, "id", "", "entry id (assigned when empty)")
	f.StringVar(&draft.OriginalText, "text", "", "original free-text description")
	f.StringVar(&food, "food", "", "food name")
	f.StringVar(&quantity, "quantity", "", "quantity eaten")
	f.StringVar(&review, "review", "", "short review of the food")
	f.StringVar(&meal, "meal", "", "meal type (breakfast, lunch, dinner, snack)")
	f.Float64Var(&calories, "calories", 0, "calories")
	f.Float64Var(&protein, "protein", 0, "protein in grams")
	f.Float64Var(&carbs, "carbs", 0, "carbohydrates in grams")
	f.Float64Var(&fats, "fats", 0, "fats in grams")
	f.Float64Var(&fiber, "fiber", 0, "fiber in grams")
	return cmd
}

func newImportCmd(v *viper.Viper) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Log every entry in a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drafts, err := entry.LoadDrafts(args[0])
			if err != nil {
				return err
			}

			app, err := newApp(cmd, v)
			if err != nil {
				return err
			}
			defer app.Close()

			user, err := app.User()
			if err != nil {
				return err
			}
			day, err := parseDay(date, time.Now())
			if err != nil {
				return err
			}

			for i, d := range drafts {
				id, err := app.Engine.StoreDraft(cmd.Context(), user, d, day)
				if err != nil {
					return fmt.Errorf("entry %d: %w", i+1, err)
				}
				app.UI.Detail(id)
			}
			app.UI.Info(fmt.Sprintf("Imported %d entries for %s", len(drafts), day.Format(entry.DateLayout)))
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "today", "day the entries are logged on")
	return cmd
}

func newListCmd(v *viper.Viper) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List logged entries between two days",
		Args:  cobra.NoArgs,
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
			now := time.Now()
			start, err := parseDay(from, now)
			if err != nil {
				return err
			}
			end, err := parseDay(to, now)
			if err != nil {
				return err
			}

			entries, err := app.Engine.ReadRange(user, start, end)
			if err != nil {
				return err
			}
			if app.Config.JSON {
				if entries == nil {
					entries = []entry.Entry{}
				}
				return app.JSON(entries)
			}

			app.UI.Title(fmt.Sprintf("%s: %s to %s", user, start.Format(entry.DateLayout), end.Format(entry.DateLayout)))
			if len(entries) == 0 {
				app.UI.Detail("no entries")
				return nil
			}
			var total int
			for _, e := range entries {
				app.UI.Print(fmt.Sprintf("%s  %-24s %5d kcal  P %gg  C %gg  F %gg  [%s]",
					e.Date, e.FoodName, e.Calories, e.Protein, e.Carbs, e.Fats, e.MealType))
				app.UI.Detail("  " + e.ID)
				total += e.Calories
			}
			app.UI.Info(fmt.Sprintf("%d entries, %d kcal", len(entries), total))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "today", "first day (YYYY-MM-DD, today, yesterday)")
	cmd.Flags().StringVar(&to, "to", "today", "last day, inclusive")
	return cmd
}

func newDeleteCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [entry-id]",
		Short: "Delete an entry from the log and the index",
		Args:  cobra.ExactArgs(1),
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
			ok, err := app.Engine.Delete(cmd.Context(), user, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("entry %s not found for %s", args[0], user)
			}
			app.UI.Info("Deleted " + args[0])
			return nil
		},
	}
}

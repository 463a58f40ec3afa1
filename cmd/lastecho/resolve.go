package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/lastecho/internal/app"
	"github.com/MrWong99/lastecho/internal/calibration"
	"github.com/MrWong99/lastecho/internal/combat"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [transcript...]",
		Short: "Resolve one attack offline and print the damage",
		Example: `  lastecho resolve --peak 80 --class berserker "받아라 소닉 펀치!"
  lastecho resolve --peak 90 --echo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			peak, _ := cmd.Flags().GetFloat64("peak")
			baseline, _ := cmd.Flags().GetFloat64("baseline")
			class, _ := cmd.Flags().GetString("class")
			mobile, _ := cmd.Flags().GetBool("mobile")
			echo, _ := cmd.Flags().GetBool("echo")
			target, _ := cmd.Flags().GetString("target")
			asJSON, _ := cmd.Flags().GetBool("json")

			if peak < 0 || peak > 100 {
				return fmt.Errorf("--peak must be within [0, 100]")
			}
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("baseline") {
				baseline = cfg.Combat.DefaultBaselineDB
			}
			cat, err := app.LoadCatalog(cfg.Combat)
			if err != nil {
				return err
			}

			r := combat.NewResolver(cat, combat.WithHints(cfg.Combat.HintThreshold))
			in := combat.Input{
				PeakLevel:  peak,
				BaselineDB: baseline,
				Transcript: strings.Join(args, " "),
				Class:      combat.Class(class),
				Mobile:     mobile,
			}
			var res combat.Result
			if echo {
				res = r.Echo(in)
			} else {
				res = r.Resolve(in, target)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			for _, l := range res.Logs {
				fmt.Fprintln(out, l)
			}
			fmt.Fprintf(out, "damage=%d outcome=%s", res.Damage, res.Outcome)
			if res.Hint != "" {
				fmt.Fprintf(out, " hint=%s", res.Hint)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().Float64("peak", 0, "peak level of the attack (0-100)")
	cmd.Flags().Float64("baseline", calibration.DefaultBaseline, "calibrated baseline (default: combat.default_baseline_db)")
	cmd.Flags().String("class", "", "player class (berserker, assassin, mage)")
	cmd.Flags().Bool("mobile", false, "apply the mobile loudness correction")
	cmd.Flags().Bool("echo", false, "resolve a keyword-less echo attack")
	cmd.Flags().String("target", "적", "opponent named in the log")
	cmd.Flags().Bool("json", false, "print the result as JSON")
	return cmd
}

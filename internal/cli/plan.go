package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/baseline/internal/planner"
	"github.com/mesh-intelligence/baseline/internal/schema"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

var (
	bold   = color.New(color.Bold)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	dim    = color.New(color.Faint)
)

// planOutput is the --json form of "baseline plan".
type planOutput struct {
	Units []unitOutput  `json:"units"`
	Plan  *planner.Plan `json:"plan,omitempty"`
}

type unitOutput struct {
	Tables []types.TableName `json:"tables"`
	Cyclic bool              `json:"cyclic"`
}

func newPlanCmd() *cobra.Command {
	var touched []string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the reset order, and the reset plan for a set of written tables",
		Long: "plan introspects the configured database and prints its reset units. It does\n" +
			"not run init scripts or change data; a database without a DSN is created\n" +
			"from the schema files only.",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInspection(cmd.Context())
			if err != nil {
				return err
			}
			defer in.Close()

			var plan *planner.Plan
			if len(touched) > 0 {
				written := types.NewAccessSet()
				for _, t := range touched {
					written.Add(types.NormalizeTableName(t))
				}
				if plan, err = in.Plan(written); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if flags.jsonMode {
				return writePlanJSON(out, in.Graph(), plan)
			}
			printUnits(out, in.Graph())
			if err := in.CheckCycles(); err != nil {
				red.Fprintf(out, "  %v\n", err)
			}
			if plan != nil {
				printPlan(out, plan)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&touched, "touched", nil, "comma-separated tables written by a test")
	return cmd
}

func writePlanJSON(w io.Writer, g *schema.Graph, plan *planner.Plan) error {
	out := planOutput{Plan: plan}
	for _, u := range g.Units() {
		out.Units = append(out.Units, unitOutput{Tables: u.Tables, Cyclic: u.Cyclic})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printUnits(w io.Writer, g *schema.Graph) {
	bold.Fprintln(w, "Reset units, parents first:")
	for i, u := range g.Units() {
		line := fmt.Sprintf("%3d. %s", i+1, joinNames(u.Tables))
		if u.Cyclic {
			yellow.Fprintf(w, "%s  (cycle)\n", line)
			continue
		}
		fmt.Fprintln(w, line)
	}
}

func printPlan(w io.Writer, plan *planner.Plan) {
	fmt.Fprintln(w)
	bold.Fprintln(w, "Reset plan:")
	fmt.Fprintf(w, "  delete:  %s\n", joinNames(plan.DeleteOrder()))
	fmt.Fprintf(w, "  restore: %s\n", joinNames(plan.RestoreOrder()))
	for _, s := range plan.Steps {
		if s.Cyclic {
			yellow.Fprintf(w, "  cycle %s: %s\n", joinNames(s.Tables), s.Strategy)
		}
	}
	if len(plan.Ignored) > 0 {
		red.Fprintf(w, "  not in schema: %s\n", joinNames(plan.Ignored))
	}
	if plan.Empty() {
		dim.Fprintln(w, "  nothing to reset")
	}
}

func joinNames(names []types.TableName) string {
	s := make([]string, len(names))
	for i, n := range names {
		s[i] = string(n)
	}
	return strings.Join(s, ", ")
}

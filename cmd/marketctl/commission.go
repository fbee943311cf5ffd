package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/commission"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func commissionCmd() *cobra.Command {
	var (
		baseRate  string
		bonusRate string
		passRate  float64
		leadAge   time.Duration
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "commission [sale-price]",
		Short: "Show the commission a partner earns on a sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid sale price %q: %w", args[0], err)
			}
			partner := commission.Partner{VerificationPassRate: passRate}
			if baseRate != "" {
				r, err := decimal.NewFromString(baseRate)
				if err != nil {
					return fmt.Errorf("invalid --base-rate: %w", err)
				}
				partner.BaseCommissionRate = &r
			}
			if bonusRate != "" {
				if partner.BonusCommissionRate, err = decimal.NewFromString(bonusRate); err != nil {
					return fmt.Errorf("invalid --bonus-rate: %w", err)
				}
			}
			now := time.Now()
			res := commission.Calculate(commission.Input{
				SalePrice:     price,
				Partner:       partner,
				LeadCreatedAt: now.Add(-leadAge),
				SaleDate:      now,
			})

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"rate":       res.Rate,
					"amount":     res.Amount,
					"bonuses":    res.Bonuses,
					"payable_at": commission.PayableDate(now).UTC().Format(time.RFC3339),
				})
			}
			fmt.Fprintf(out, "rate:    %s\n", res.Rate.String())
			fmt.Fprintf(out, "amount:  %s\n", res.Amount.StringFixed(4))
			if len(res.Bonuses) == 0 {
				fmt.Fprintln(out, "bonuses: none")
			} else {
				fmt.Fprintf(out, "bonuses: %s\n", strings.Join(res.Bonuses, ", "))
			}
			fmt.Fprintf(out, "payable: %s\n", commission.PayableDate(now).UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&baseRate, "base-rate", "", "partner base rate override, e.g. 0.25")
	cmd.Flags().StringVar(&bonusRate, "bonus-rate", "", "partner volume bonus rate; positive enables the volume bonus")
	cmd.Flags().Float64Var(&passRate, "pass-rate", 0, "partner verification pass rate in percent")
	cmd.Flags().DurationVar(&leadAge, "lead-age", 30*24*time.Hour, "time between lead creation and the sale")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

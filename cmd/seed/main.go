package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shinyyama/leadmarket-backend/internal/config"
	"github.com/shinyyama/leadmarket-backend/internal/db"
	"github.com/shinyyama/leadmarket-backend/internal/idgen"
	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/repository"
	"github.com/shinyyama/leadmarket-backend/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type seedPartner struct {
	ID       string
	Name     string
	OwnerUID string
	PassRate float64
	Bonus    string
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func run() error {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	store := repository.NewStore(gdb)

	_, total, err := store.Leads().List(ctx, false, 1, 0)
	if err != nil {
		return fmt.Errorf("count leads: %w", err)
	}
	if total > 0 && !strings.EqualFold(os.Getenv("FORCE_SEED"), "true") {
		log.Printf("leads already exist; skipping seed (set FORCE_SEED=true to override)")
		return nil
	}

	partners := buildSeedPartners()
	leads := buildSeedLeads(partners)
	err = store.Transaction(ctx, func(tx repository.Store) error {
		for i := range partners {
			p := partners[i]
			row := &model.Partner{
				ID:                   p.ID,
				Name:                 p.Name,
				OwnerUID:             p.OwnerUID,
				VerificationPassRate: p.PassRate,
				BonusCommissionRate:  decimal.RequireFromString(p.Bonus),
			}
			if err := tx.Partners().Upsert(ctx, row); err != nil {
				return fmt.Errorf("upsert partner %s: %w", p.ID, err)
			}
		}
		if err := tx.Leads().Create(ctx, leads); err != nil {
			return fmt.Errorf("insert leads: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if ws := strings.TrimSpace(os.Getenv("SEED_WORKSPACE")); ws != "" {
		ids, err := idgen.New(cfg.SnowflakeNode)
		if err != nil {
			return err
		}
		credits := service.NewCreditService(store, ids, zap.NewNop())
		entry, err := credits.Grant(ctx, ws, decimal.NewFromInt(100), "seed grant")
		if err != nil {
			return fmt.Errorf("grant credits: %w", err)
		}
		log.Printf("granted 100.00 credits to %s (balance %s)", ws, entry.BalanceAfter.StringFixed(2))
	}

	log.Printf("seeded %d partners and %d leads", len(partners), len(leads))
	return nil
}

func buildSeedPartners() []seedPartner {
	return []seedPartner{
		{ID: "partner-northwind", Name: "Northwind Data", OwnerUID: "seed-owner-northwind", PassRate: 97, Bonus: "0.02"},
		{ID: "partner-bluebird", Name: "Bluebird Prospecting", OwnerUID: "seed-owner-bluebird", PassRate: 91, Bonus: "0"},
		{ID: "partner-atlas", Name: "Atlas Outreach", OwnerUID: "seed-owner-atlas", PassRate: 80, Bonus: "0"},
	}
}

func buildSeedLeads(partners []seedPartner) []model.Lead {
	type industry struct {
		Name      string
		Price     string
		Companies []string
	}
	industries := []industry{
		{Name: "SaaS", Price: "0.12", Companies: []string{"Cloudline", "Metricly", "Stackform", "Pipewise"}},
		{Name: "Manufacturing", Price: "0.08", Companies: []string{"Ironbridge Works", "Precision Cast", "Deltafab"}},
		{Name: "Healthcare", Price: "0.15", Companies: []string{"Clearview Clinics", "Medimate", "Pulse Labs"}},
		{Name: "Retail", Price: "0", Companies: []string{"Corner Goods", "Brightcart", "Maple Outfitters", "Urban Pantry"}},
		{Name: "Logistics", Price: "0.06", Companies: []string{"Freightly", "Harbor Route", "Swift Parcel"}},
	}
	locations := []string{"Austin, TX", "Denver, CO", "Boston, MA", "Seattle, WA"}
	firstNames := []string{"Avery", "Jordan", "Riley", "Morgan", "Casey", "Quinn"}
	lastNames := []string{"Nguyen", "Patel", "Garcia", "Kim", "Okafor", "Schmidt"}

	var leads []model.Lead
	n := 0
	for _, ind := range industries {
		for _, company := range ind.Companies {
			for k := 0; k < 2; k++ {
				first := firstNames[n%len(firstNames)]
				last := lastNames[(n/len(firstNames)+k)%len(lastNames)]
				domain := strings.ToLower(strings.ReplaceAll(company, " ", "")) + ".example"
				lead := model.Lead{
					ID:                 uuid.NewString(),
					FirstName:          first,
					LastName:           last,
					Email:              strings.ToLower(first+"."+last) + "@" + domain,
					Phone:              fmt.Sprintf("+1-555-%04d", 1000+n),
					CompanyName:        company,
					CompanyIndustry:    ind.Name,
					CompanyLocation:    locations[n%len(locations)],
					Price:              decimal.RequireFromString(ind.Price),
					AvailabilityStatus: model.LeadStatusAvailable,
				}
				// every fourth lead is house inventory with no partner
				if n%4 != 3 {
					pid := partners[n%len(partners)].ID
					lead.PartnerID = &pid
				}
				leads = append(leads, lead)
				n++
			}
		}
	}
	return leads
}

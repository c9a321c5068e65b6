package tiers

func DefaultDocument() Document {
	lim := func(l Limit) *Limit { return &l }
	return Document{
		Version: "2026-01",
		Tiers: []TierDocument{
			{
				ID:           string(Core),
				Name:         "Core",
				Currency:     "USD",
				MonthlyPrice: "29.00",
				YearlyPrice:  "290.00",
				Limits: LimitsDocument{
					Employees: lim(Limited(10)),
					MenuItems: lim(Limited(50)),
					Orders:    lim(Limited(1000)),
				},
				Features:       []string{},
				RecommendedFor: []string{"Single cafes", "Small restaurants"},
			},
			{
				ID:           string(Pro),
				Name:         "Pro",
				Currency:     "USD",
				MonthlyPrice: "79.00",
				YearlyPrice:  "790.00",
				Limits: LimitsDocument{
					Employees: lim(Limited(50)),
					MenuItems: lim(Limited(200)),
					Orders:    lim(Limited(10000)),
				},
				Features:       []string{string(Analytics), string(AIFeatures), string(PrioritySupport)},
				RecommendedFor: []string{"Busy restaurants", "Boutique hotels"},
			},
			{
				ID:           string(Enterprise),
				Name:         "Enterprise",
				Currency:     "USD",
				MonthlyPrice: "199.00",
				YearlyPrice:  "1990.00",
				Limits: LimitsDocument{
					Employees: lim(Unlimited()),
					MenuItems: lim(Unlimited()),
					Orders:    lim(Unlimited()),
				},
				Features: []string{
					string(Analytics), string(AIFeatures), string(WhiteLabel),
					string(CustomDomain), string(PrioritySupport), string(MultiLocation),
				},
				RecommendedFor: []string{"Hotel groups", "Restaurant chains"},
			},
		},
	}
}

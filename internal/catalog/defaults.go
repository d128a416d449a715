package catalog

import "github.com/talgya/city-council/internal/city"

func fx(eco, wel, edu, env, sec, hr int) city.Effects {
	return city.Effects{
		city.Economy:     eco,
		city.Welfare:     wel,
		city.Education:   edu,
		city.Environment: env,
		city.Security:    sec,
		city.HumanRights: hr,
	}
}

func coef(eco, wel, edu, env, sec, hr float64) map[city.Dimension]float64 {
	return map[city.Dimension]float64{
		city.Economy:     eco,
		city.Welfare:     wel,
		city.Education:   edu,
		city.Environment: env,
		city.Security:    sec,
		city.HumanRights: hr,
	}
}

// DefaultPolicies returns the built-in policy deck.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			ID: "policy_001", Category: CategoryEconomy,
			Title:       "Abolish the sales tax",
			Description: "A bold move to lighten the load on shoppers and get money moving again.",
			NewsFlash:   "BREAKING: Sales tax abolished! Shopping streets celebrate while budget hawks sound the alarm.",
			Effects:     fx(20, -15, -10, 0, 0, 0),
		},
		{
			ID: "policy_002", Category: CategoryEnvironment,
			Title:       "Renewable energy act",
			Description: "Sharply raise subsidies for solar and wind on the road to a carbon-free city.",
			NewsFlash:   "SPECIAL: Emissions plunge under the renewables push, but residents grumble over power bills.",
			Effects:     fx(-10, 0, 5, 25, 0, 0),
		},
		{
			ID: "policy_003", Category: CategorySecurity,
			Title:       "Mandatory CCTV",
			Description: "Install surveillance cameras in every public space to deter crime.",
			NewsFlash:   "BREAKING: Crime rate collapses! Privacy groups march on city hall.",
			Effects:     fx(-5, 0, 0, 0, 20, -15),
		},
		{
			ID: "policy_004", Category: CategoryWelfare,
			Title:       "Universal basic income",
			Description: "Pay every resident a fixed monthly sum to guarantee a minimum standard of living.",
			NewsFlash:   "HISTORIC: Poverty falls fast as basic income begins; tax hike debate looms.",
			Effects:     fx(-20, 25, 0, 0, 0, 10),
		},
		{
			ID: "policy_005", Category: CategoryEducation,
			Title:       "Free education",
			Description: "Make every stage of schooling free, from kindergarten to university.",
			NewsFlash:   "GOOD NEWS: Enrolment hits a record high, though the overspend squeezes other programmes.",
			Effects:     fx(-15, 10, 30, 0, 0, 0),
		},
		{
			ID: "policy_006", Category: CategoryEconomy,
			Title:       "Attract a mega mall",
			Description: "Bring a large retail complex to the suburbs to create jobs and spending.",
			NewsFlash:   "ECONOMY: Mega mall opens with 5,000 new jobs; conservationists protest the cleared woodland.",
			Effects:     fx(25, 0, 0, -20, -5, 0),
		},
		{
			ID: "policy_007", Category: CategoryEnvironment,
			Title:       "Green parks project",
			Description: "Turn vacant lots across the city into parks.",
			NewsFlash:   "ENVIRONMENT: Green space up 30%! Residents are happier, but upkeep strains the budget.",
			Effects:     fx(-10, 10, 0, 20, 0, 0),
		},
		{
			ID: "policy_008", Category: CategorySecurity,
			Title:       "Expand the police force",
			Description: "Hire many more officers and step up patrols.",
			NewsFlash:   "SAFETY: Streets feel safer with more patrols; critics warn of heavy-handed policing.",
			Effects:     fx(-15, 0, 0, 0, 25, -5),
		},
		{
			ID: "policy_009", Category: CategoryEconomy,
			Title:       "Tech company tax breaks",
			Description: "Cut taxes for IT firms to build a high-tech industry cluster.",
			NewsFlash:   "ECONOMY: Startups flock to the new tech zone; data centre power use raises concern.",
			Effects:     fx(20, 0, 10, -10, 0, 0),
		},
		{
			ID: "policy_010", Category: CategoryWelfare,
			Title:       "Senior healthcare subsidy",
			Description: "Reduce out-of-pocket medical costs for older residents.",
			NewsFlash:   "WELFARE: Seniors see doctors more and live healthier; working-age taxpayers push back.",
			Effects:     fx(-15, 20, 0, 0, 0, 5),
		},
		{
			ID: "policy_011", Category: CategoryEnvironment,
			Title:       "Expand nature reserves",
			Description: "Widen the zones closed to development to protect local ecosystems.",
			NewsFlash:   "ENVIRONMENT: Rare species sighted again; developers cry foul.",
			Effects:     fx(-20, 0, 0, 25, 0, 5),
		},
		{
			ID: "policy_012", Category: CategorySecurity,
			Title:       "Night curfew ordinance",
			Description: "Require residents to register late-night outings to curb crime.",
			NewsFlash:   "SAFETY: Night-time crime plummets as lawsuits over lost freedoms pile up.",
			Effects:     fx(0, -5, 0, 0, 15, -25),
		},
		{
			ID: "policy_013", Category: CategoryEconomy,
			Title:       "Startup investment fund",
			Description: "Back young companies to speed up innovation.",
			NewsFlash:   "ECONOMY: The city's first unicorn is born; small firms left out are unhappy.",
			Effects:     fx(20, -10, 5, 0, 0, 0),
		},
		{
			ID: "policy_014", Category: CategoryEnvironment,
			Title:       "Community gardens",
			Description: "Open allotments across the city where anyone can try farming.",
			NewsFlash:   "LIFESTYLE: Community gardens are a hit, with a six-month waiting list.",
			Effects:     fx(0, 10, 5, 15, 0, 0),
		},
		{
			ID: "policy_015", Category: CategoryHumanRights,
			Title:       "Freedom of information ordinance",
			Description: "Open up government records and protect the public's right to know.",
			NewsFlash:   "POLITICS: Disclosures expose misconduct at city hall; police fear leaked case files.",
			Effects:     fx(0, 5, 0, 0, -10, 20),
		},
	}
}

// DefaultIdeologies returns the built-in ideologies. Every profile sums to 3.5
// so no ideology starts ahead.
func DefaultIdeologies() []Ideology {
	return []Ideology{
		{
			ID:           "ideology_capitalist",
			Name:         "Neoliberal",
			Description:  "Growth is what makes citizens happy. Deregulate and trust the market.",
			Coefficients: coef(2.0, 0.0, 0.5, -0.5, 1.0, 0.5),
		},
		{
			ID:           "ideology_socialist",
			Name:         "Social Democrat",
			Description:  "Equal welfare for everyone comes first. Close the gaps.",
			Coefficients: coef(-0.5, 2.0, 1.0, 0.5, -0.5, 1.0),
		},
		{
			ID:           "ideology_environmentalist",
			Name:         "Environmentalist",
			Description:  "There is no future without a livable planet. Live with nature.",
			Coefficients: coef(-1.0, 0.5, 1.0, 2.0, 0.0, 1.0),
		},
		{
			ID:           "ideology_authoritarian",
			Name:         "Law and Order",
			Description:  "A safe city is the foundation of everything. Govern firmly.",
			Coefficients: coef(1.0, 0.0, 0.5, 0.5, 2.0, -0.5),
		},
		{
			ID:           "ideology_libertarian",
			Name:         "Libertarian",
			Description:  "Individual freedom above all. Keep government out of the way.",
			Coefficients: coef(1.0, -0.5, 0.5, 0.5, 0.0, 2.0),
		},
		{
			ID:           "ideology_technocrat",
			Name:         "Technocrat",
			Description:  "Education and science move society forward. Knowledge is power.",
			Coefficients: coef(0.5, 0.5, 2.0, 0.5, 0.0, 0.0),
		},
	}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(DefaultPolicies(), DefaultIdeologies())
	if err != nil {
		panic("catalog: invalid defaults: " + err.Error())
	}
	return c
}

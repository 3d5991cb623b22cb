package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	ModeIntake       = "intake"
	ModeAnalysis     = "analysis"
	ModeDistribution = "distribution"
	ModeNone         = "none"
)

// Category is one topical mode and the phrases that indicate it. Order in a list matters: it breaks ties.
type Category struct {
	Name    string   `yaml:"name"`
	Phrases []string `yaml:"phrases"`
}

// Data is the swappable keyword configuration the policy and the loops run on.
type Data struct {
	Topics          []Category          `yaml:"topics"`
	DoNotEngage     []string            `yaml:"do_not_engage"`
	OutreachSignals []string            `yaml:"outreach_signals"`
	SearchQueries   map[string][]string `yaml:"search_queries"`
	OutreachQueries []string            `yaml:"outreach_queries"`
}

func DefaultData() Data {
	return Data{
		Topics: []Category{
			{
				Name: ModeIntake,
				Phrases: []string{
					"crowdsourcing", "sensors", "data collection", "incentive mechanisms",
					"human reporting", "bot reporting", "scraping", "data generation",
					"ground truth", "sensor networks", "citizen science", "data labeling",
				},
			},
			{
				Name: ModeAnalysis,
				Phrases: []string{
					"LLM pipeline", "deduplication", "trust scoring", "data quality",
					"information markets", "evaluation", "human in the loop", "HITL",
					"data verification", "clustering", "signal processing", "NLP pipeline",
				},
			},
			{
				Name: ModeDistribution,
				Phrases: []string{
					"GovTech", "enterprise workflow", "alerting", "API products",
					"routing", "decision makers", "dashboards", "notifications",
					"stakeholder engagement", "government", "civic tech", "alert systems",
				},
			},
		},
		DoNotEngage: []string{
			"ragebait", "flame war", "personal attack", "politics", "partisan",
			"token launch", "crypto pump", "NFT drop", "meme coin",
			"existential risk debate", "AI doom", "consciousness debate",
		},
		OutreachSignals: []string{
			"monitoring", "reporting", "sensor", "detect", "photograph",
			"physical world", "infrastructure", "hazard", "maintenance",
			"public space", "urban", "municipal", "waste", "cleanup",
			"accessibility", "broken", "damaged", "complaint", "issue tracker",
		},
		SearchQueries: map[string][]string{
			ModeIntake: {
				"crowdsourcing data collection from humans and agents",
				"incentive mechanisms for reporting and data generation",
				"sensor networks and ground truth verification",
			},
			ModeAnalysis: {
				"LLM pipeline for data deduplication and quality",
				"trust scoring and data verification systems",
				"clustering signals from multiple sources",
			},
			ModeDistribution: {
				"routing alerts to decision makers and stakeholders",
				"GovTech enterprise workflow API integration",
				"building dashboards and notification systems for actionable intelligence",
			},
		},
		OutreachQueries: []string{
			"building monitoring tools for the physical world",
			"agent reporting infrastructure and data collection",
			"sensors and IoT data from agents",
			"agents detecting real-world issues and problems",
			"crowdsourced data collection by AI agents",
			"infrastructure monitoring and alerting agent",
			"photo report analysis and routing",
			"civic tech agents and municipal services",
		},
	}
}

// LoadPolicyFile reads a YAML file and overlays every non-empty section on top of DefaultData.
func LoadPolicyFile(path string) (Data, error) {
	data := DefaultData()

	raw, err := os.ReadFile(path)
	if err != nil {
		return data, fmt.Errorf("reading policy file: %w", err)
	}

	var override Data
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return data, fmt.Errorf("parsing policy file %s: %w", path, err)
	}

	if len(override.Topics) > 0 {
		for _, c := range override.Topics {
			if c.Name == "" || c.Name == ModeNone {
				return data, fmt.Errorf("policy file %s: invalid topic name %q", path, c.Name)
			}
		}
		data.Topics = override.Topics
	}
	if len(override.DoNotEngage) > 0 {
		data.DoNotEngage = override.DoNotEngage
	}
	if len(override.OutreachSignals) > 0 {
		data.OutreachSignals = override.OutreachSignals
	}
	if len(override.SearchQueries) > 0 {
		data.SearchQueries = override.SearchQueries
	}
	if len(override.OutreachQueries) > 0 {
		data.OutreachQueries = override.OutreachQueries
	}

	// a topic with no queries would never be searched
	for _, mode := range data.ModeNames() {
		if len(data.SearchQueries[mode]) == 0 {
			return data, fmt.Errorf("policy file %s: topic %q has no search_queries", path, mode)
		}
	}
	return data, nil
}

// ModeNames lists topic names in tie-break order.
func (d Data) ModeNames() []string {
	out := make([]string, 0, len(d.Topics))
	for _, c := range d.Topics {
		out = append(out, c.Name)
	}
	return out
}

// Package insights turns threshold breaches in the latest metrics and KPIs
// into AI-written narrative insights.
package insights

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/ai"
	"github.com/sells-group/pulse/internal/kpi"
	"github.com/sells-group/pulse/internal/model"
)

// Confidence is attached to every generated insight.
const Confidence = 0.8

// Snapshot is the state the rules look at.
type Snapshot struct {
	Metrics []model.BusinessMetric
	KPIs    []model.KPI
}

// Latest returns the newest observation of name, if any.
func (s Snapshot) Latest(name string) (model.BusinessMetric, bool) {
	var (
		best  model.BusinessMetric
		found bool
	)
	for _, m := range s.Metrics {
		if m.Name == name && (!found || m.Timestamp.After(best.Timestamp)) {
			best, found = m, true
		}
	}
	return best, found
}

// KPI returns the KPI row with id.
func (s Snapshot) KPI(id string) (model.KPI, bool) {
	for _, k := range s.KPIs {
		if k.ID == id {
			return k, true
		}
	}
	return model.KPI{}, false
}

// Rule fires when Match reports true and asks the AI router for the text.
type Rule struct {
	Name     string
	Type     model.InsightType
	Title    string
	Priority string
	Category model.MetricCategory
	Prompt   string
	// Match reports whether the rule fires and the context passed to the
	// prompt.
	Match func(s Snapshot) (map[string]any, bool)
}

// Rules returns the built-in rules.
func Rules() []Rule {
	return []Rule{
		{
			Name: "revenue_off_track", Type: model.InsightWarning, Priority: "high",
			Title: "Revenue is off track", Category: model.CategoryRevenue,
			Prompt: "Monthly revenue is well below target. Give two concrete actions leadership can take this month to recover.",
			Match: func(s Snapshot) (map[string]any, bool) {
				k, ok := s.KPI(kpi.Revenue)
				if !ok || k.Status != model.KPIOffTrack {
					return nil, false
				}
				return map[string]any{"current": k.Current, "target": k.Target, "achievement": k.Achievement}, true
			},
		},
		{
			Name: "low_productivity", Type: model.InsightWarning, Priority: "medium",
			Title: "Team productivity is low", Category: model.CategoryProductivity,
			Prompt: "Average employee productivity is below 60%. Suggest likely causes and how to address them.",
			Match:  below(model.MetricAvgProductivity, 60),
		},
		{
			Name: "placement_rate_strong", Type: model.InsightOpportunity, Priority: "medium",
			Title: "Placement rate is on target", Category: model.CategoryPlacement,
			Prompt: "The placement rate is meeting its target. Suggest how to scale what is working.",
			Match: func(s Snapshot) (map[string]any, bool) {
				k, ok := s.KPI(kpi.PlacementRate)
				if !ok || k.Status != model.KPIOnTrack {
					return nil, false
				}
				return map[string]any{"placement_rate": k.Current, "target": k.Target}, true
			},
		},
		{
			Name: "low_quiz_scores", Type: model.InsightRecommendation, Priority: "low",
			Title: "Quiz scores need attention", Category: model.CategoryLearning,
			Prompt: "Average academy quiz scores are below 70%. Recommend changes to course content or pacing.",
			Match:  below(model.MetricAvgQuizScore, 70),
		},
	}
}

// below fires when the latest observation of metric is under threshold.
func below(metric string, threshold float64) func(Snapshot) (map[string]any, bool) {
	return func(s Snapshot) (map[string]any, bool) {
		m, ok := s.Latest(metric)
		if !ok || m.Value >= threshold {
			return nil, false
		}
		return map[string]any{metric: m.Value, "threshold": threshold}, true
	}
}

// Generator evaluates rules against a snapshot.
type Generator struct {
	ai    ai.Generator
	rules []Rule
	now   func() time.Time
}

// NewGenerator creates a Generator with the built-in rules.
func NewGenerator(gen ai.Generator) *Generator {
	return &Generator{
		ai:    gen,
		rules: Rules(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Generate returns one insight per triggered rule. A rule whose AI call
// fails is dropped.
func (g *Generator) Generate(ctx context.Context, s Snapshot) []model.Insight {
	log := zap.L().With(zap.String("component", "insights"))
	var out []model.Insight
	for _, r := range g.rules {
		data, ok := r.Match(s)
		if !ok {
			continue
		}
		if g.ai == nil {
			log.Debug("insights: no ai router, skipping rule", zap.String("rule", r.Name))
			continue
		}
		c, err := g.ai.Route(ctx, ai.Request{
			System:  "You are a business analyst writing for a CEO. Be specific and brief.",
			Prompt:  r.Prompt,
			Context: data,
		})
		if err != nil {
			log.Warn("insights: dropping insight", zap.String("rule", r.Name), zap.Error(err))
			continue
		}
		out = append(out, model.Insight{
			ID:          uuid.NewString(),
			Type:        r.Type,
			Title:       r.Title,
			Content:     c.Content,
			Confidence:  Confidence,
			Priority:    r.Priority,
			Category:    r.Category,
			GeneratedAt: g.now(),
		})
	}
	return out
}

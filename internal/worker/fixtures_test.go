package worker

import "github.com/thebtf/chartsense/pkg/models"

func sessionFieldsFixture() models.SessionFields {
	return models.SessionFields{
		ProviderLabel: "Anthropic Claude",
		Rating:        models.RatingNeutral,
		Confidence:    models.ConfidenceMedium,
		Body:          "Consolidating under resistance.",
	}
}

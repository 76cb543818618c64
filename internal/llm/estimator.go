package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// MealEstimate is the model's guess at a dish's nutrition, used to fill only
// the fields the primary extraction left blank.
type MealEstimate struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Fat      float64 `json:"fat"`
	Carbs    float64 `json:"carbs"`
}

const estimatePromptFmt = `Estimate the approximate nutrition of the dish %q.
Respond with ONLY a valid JSON object, no surrounding text:
{"calories": number, "protein": number, "fat": number, "carbs": number}

Estimation rules:
- Base the estimate on a typical serving of this dish.
- Honor any quantity embedded in the name ("200g cottage cheese", "2 eggs", "a glass of milk").
- A grain/side portion: ~150-200 kcal, 5-10 g protein, 1-3 g fat, 30-40 g carbs.
- A meat/fish portion (100-150 g): ~150-250 kcal, 20-30 g protein, 5-15 g fat, 0-5 g carbs.
- A vegetable portion: ~20-50 kcal; a medium fruit: ~50-100 kcal.
- Be realistic; do not inflate or understate.`

// EstimateMeal asks the model for a plausible KBJU breakdown of a dish name.
// Returns (nil, nil) when the answer cannot be interpreted; the caller then
// keeps the meal as extracted. Network exhaustion still surfaces as an error.
func (c *Client) EstimateMeal(ctx context.Context, mealName string) (*MealEstimate, error) {
	prompt := fmt.Sprintf(estimatePromptFmt, mealName)
	raw, err := c.completeWithRetry(ctx, []wireMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		c.logger.Warn("meal estimate had no JSON object", zap.String("meal", mealName))
		return nil, nil
	}

	var est MealEstimate
	if err := json.Unmarshal([]byte(raw[start:end+1]), &est); err != nil {
		c.logger.Warn("meal estimate unparseable", zap.String("meal", mealName), zap.Error(err))
		return nil, nil
	}
	return &est, nil
}

package analysis

import "strings"

// DefaultInstructions is the analysis request sent with every chart capture.
const DefaultInstructions = `Analyze this stock/futures trading chart. Provide:

1. **Current Trend**: What's the overall market direction?
2. **Key Support/Resistance Levels**: Identify critical price levels
3. **Technical Indicators**: What do you observe (if visible)?
4. **Trading Recommendation**:
   - Action: BUY, SELL, or HOLD
   - Entry point (if applicable)
   - Stop loss suggestion
   - Target price
   - Risk/Reward ratio
5. **Key Risks**: What could invalidate this analysis?

Be specific and actionable. Format your response clearly.`

// BuildPrompt builds the prompt for a chart capture.
// A non-empty custom text replaces the default instructions; the marker header is always requested.
func BuildPrompt(custom string) string {
	var sb strings.Builder

	sb.WriteString("Start your response with exactly these two lines:\n")
	sb.WriteString("Rating: <Bullish|Bearish|Neutral>\n")
	sb.WriteString("Confidence: <High|Medium|Low>\n\n")

	if strings.TrimSpace(custom) != "" {
		sb.WriteString(strings.TrimSpace(custom))
	} else {
		sb.WriteString(DefaultInstructions)
	}

	return sb.String()
}

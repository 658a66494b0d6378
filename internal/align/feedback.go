package align

import (
	"fmt"

	"github.com/MrWong99/paath/pkg/types"
)

// DeriveFeedback turns alignment errors and warnings into user-facing
// feedback items: one error item per alignment error, in order, followed by
// one warning item per warning, in order. The returned slice is never nil.
func DeriveFeedback(errs []types.AlignmentError, warnings []types.Warning) []types.FeedbackItem {
	items := make([]types.FeedbackItem, 0, len(errs)+len(warnings))
	for _, e := range errs {
		items = append(items, types.FeedbackItem{
			Type:        types.FeedbackError,
			Title:       fmt.Sprintf("Pronunciation error at word: \"%s\"", e.Word),
			Description: fmt.Sprintf("Correct pronunciation: \"%s\"", e.CorrectWord),
		})
	}
	for _, w := range warnings {
		items = append(items, types.FeedbackItem{
			Type:        types.FeedbackWarning,
			Title:       w.Title,
			Description: w.Description,
		})
	}
	return items
}

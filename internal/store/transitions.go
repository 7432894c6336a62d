package store

import "github.com/stephdeve/SmartQueue/internal/models"

const (
	ActionCallNext     = "call_next"
	ActionCancel       = "cancel"
	ActionMarkAbsent   = "mark_absent"
	ActionRecall       = "recall"
	ActionComplete     = "complete"
	ActionReprioritize = "reprioritize"
)

var transitionMap = map[string][]string{
	ActionCallNext:     {models.StatusWaiting},
	ActionCancel:       {models.StatusWaiting},
	ActionMarkAbsent:   {models.StatusCalled},
	ActionRecall:       {models.StatusCalled, models.StatusAbsent},
	ActionComplete:     {models.StatusCalled, models.StatusAbsent},
	ActionReprioritize: {models.StatusWaiting},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

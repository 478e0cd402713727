package service

import (
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
)

const (
	// SystemPromptPreamble introduces the system prompt in the synthetic
	// user turn.
	SystemPromptPreamble = "あなたは以下の指示に従って回答してください:\n\n"
	// SystemPromptAck is the synthetic model turn that follows it.
	SystemPromptAck = "はい、指示を理解しました。その指示に従って回答いたします。"
)

// BuildHistory converts a client transcript into model turns.
//
// A non-empty systemPrompt is sent as a user turn (preamble + prompt)
// answered by a fixed model acknowledgement, ahead of the transcript. Entry
// roles map "user" to a user turn and anything else to a model turn; order
// is kept and nothing is trimmed or deduplicated.
func BuildHistory(history []entity.HistoryEntry, systemPrompt string) []entity.Turn {
	turns := make([]entity.Turn, 0, len(history)+2)

	if systemPrompt != "" {
		turns = append(turns,
			entity.Turn{Role: entity.TurnUser, Text: SystemPromptPreamble + systemPrompt},
			entity.Turn{Role: entity.TurnModel, Text: SystemPromptAck},
		)
	}

	for _, item := range history {
		role := entity.TurnModel
		if item.Role == string(entity.RoleUser) {
			role = entity.TurnUser
		}
		turns = append(turns, entity.Turn{Role: role, Text: item.Content})
	}

	return turns
}

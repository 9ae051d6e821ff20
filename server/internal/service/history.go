package service

import "DocChat/server/internal/model"

// DefaultInstruction opens every generation call. It is re-derived per request
// and never counted against the history cap.
const DefaultInstruction = "You are an assistant answering questions using provided context."

// WindowTurns returns the instruction followed by at most maxTurns of the most
// recent non-system turns. Stored system turns (an older instruction) are
// replaced rather than kept, so the cap can never evict the instruction.
func WindowTurns(turns []model.Turn, maxTurns int, instruction string) []model.Turn {
	conversation := VisibleTurns(turns)
	if maxTurns > 0 && len(conversation) > maxTurns {
		conversation = conversation[len(conversation)-maxTurns:]
	}
	out := make([]model.Turn, 0, len(conversation)+1)
	out = append(out, model.SystemTurn(instruction))
	return append(out, conversation...)
}

// VisibleTurns drops system turns; what a user is shown on reconnect.
func VisibleTurns(turns []model.Turn) []model.Turn {
	out := make([]model.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == model.RoleSystem {
			continue
		}
		out = append(out, t)
	}
	return out
}

func contextTurn(contextBlock string) model.Turn {
	return model.SystemTurn("Use the following document excerpts to provide a response:\n\n" + contextBlock)
}

package message

import "fmt"

// Capability identifies one worker pool.
type Capability string

const (
	CapabilityASR Capability = "asr"
	CapabilityLLM Capability = "llm"
)

// Action names one operation of a capability.
type Action string

const (
	ActionTranscribeFile  Action = "transcribe_file"
	ActionTranscribeBatch Action = "transcribe_batch"

	ActionSummarize      Action = "summarize"
	ActionSummarizeCall  Action = "summarize_call"
	ActionScoreChecklist Action = "score_checklist"
	ActionHealth         Action = "health"
)

var actionCapability = map[Action]Capability{
	ActionTranscribeFile:  CapabilityASR,
	ActionTranscribeBatch: CapabilityASR,
	ActionSummarize:       CapabilityLLM,
	ActionSummarizeCall:   CapabilityLLM,
	ActionScoreChecklist:  CapabilityLLM,
	ActionHealth:          CapabilityLLM,
}

// Capability returns the pool an action belongs to, or "" for unknown actions.
func (a Action) Capability() Capability {
	return actionCapability[a]
}

// CheckCapability returns an error unless a is a known action of c.
func (a Action) CheckCapability(c Capability) error {
	if a.Capability() != c {
		return fmt.Errorf("unknown %s action '%s'", c.label(), a)
	}
	return nil
}

func (c Capability) label() string {
	switch c {
	case CapabilityASR:
		return "ASR"
	case CapabilityLLM:
		return "LLM"
	}
	return string(c)
}

package provider

import "fmt"

// TaskCategory classifies the generation intent of a request.
type TaskCategory string

const (
	Creative      TaskCategory = "creative"
	Factual       TaskCategory = "factual"
	CurrentEvents TaskCategory = "current_events"
	Explanatory   TaskCategory = "explanatory"
	Analysis      TaskCategory = "analysis"
)

func Categories() []TaskCategory {
	return []TaskCategory{Creative, Factual, CurrentEvents, Explanatory, Analysis}
}

func ParseTaskCategory(s string) (TaskCategory, error) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown task category %q", s)
}

func (c TaskCategory) String() string { return string(c) }

func (c TaskCategory) Valid() bool {
	_, err := ParseTaskCategory(string(c))
	return err == nil
}

var systemInstructions = map[TaskCategory]string{
	Creative:      "You are a creative educational content writer. Produce engaging, original exam questions with plausible distractors.",
	Factual:       "You are a precise subject-matter expert. Produce factually accurate exam questions and answers; never invent facts.",
	CurrentEvents: "You are a current-affairs researcher. Produce questions grounded in recent, verifiable events and state the relevant dates.",
	Explanatory:   "You are a patient teacher. Explain concepts step by step so a student preparing for an exam can follow them.",
	Analysis:      "You are a curriculum analyst. Examine the supplied content and report its structure, key topics and difficulty.",
}

const defaultSystemInstruction = "You are a helpful assistant for exam preparation."

// SystemInstruction returns the fixed system prompt sent with requests of
// the given category.
func SystemInstruction(c TaskCategory) string {
	if s, ok := systemInstructions[c]; ok {
		return s
	}
	return defaultSystemInstruction
}

// Package prompt assembles the system and user prompts for a chat turn.
//
// When reference passages are available, the user prompt embeds them as
// numbered excerpts with their source labels and instructs the model to
// ground its answer in them. Without passages the question passes through
// untouched.
package prompt

import (
	"fmt"
	"strings"

	"github.com/safelex/safelex/internal/retrieval"
)

// Request is an assembled prompt pair ready for the completion client.
type Request struct {
	System string
	User   string
}

// Assembler builds prompts from a fixed system persona and per-turn
// passages.
//
// Safe for concurrent use.
type Assembler struct {
	system string
}

// New creates an Assembler with the given system prompt.
func New(system string) *Assembler {
	return &Assembler{system: system}
}

// Assemble builds the prompt pair for one turn. Passages appear in the
// order given, each tagged with its ordinal and source label; the model is
// instructed to cite them. With no passages the question is used as-is.
func (a *Assembler) Assemble(question string, passages []retrieval.Passage) Request {
	question = strings.TrimSpace(question)
	if len(passages) == 0 {
		return Request{System: a.system, User: question}
	}

	var sb strings.Builder
	sb.WriteString("Estratti normativi pertinenti:\n\n")
	for i, p := range passages {
		source := p.Source
		if source == "" {
			source = "Documento normativo"
		}
		fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", i+1, source, p.Content)
	}
	sb.WriteString("Rispondi alla domanda seguente basandoti sugli estratti sopra riportati, citando le fonti pertinenti. ")
	sb.WriteString("Se gli estratti non sono sufficienti, rispondi comunque sulla base della tua conoscenza generale del D.Lgs 81/2008, segnalando che la risposta non deriva dagli estratti.\n\n")
	sb.WriteString("Domanda: ")
	sb.WriteString(question)

	return Request{System: a.system, User: sb.String()}
}

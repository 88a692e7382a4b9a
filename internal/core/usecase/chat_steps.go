package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/vmelnikau/docqa/internal/core/domain"
	"github.com/vmelnikau/docqa/internal/core/retrieval"
)

// stepRetrieve fills state.Documents for the question. A missing question is
// a state defect, not an upstream failure: the step logs it and continues
// with an empty document set so the turn still completes.
func (uc *ChatTurnUseCase) stepRetrieve(ctx context.Context, state domain.ConversationState) (domain.StateDelta, error) {
	question := strings.TrimSpace(state.Question)
	if question == "" {
		err := domain.WrapError(domain.ErrMissingField, "retrieve step", fmt.Errorf("question is empty"))
		uc.logger.Warn("retrieve step skipped", "error", err)
		return domain.StateDelta{Documents: []domain.Document{}}, nil
	}

	scored, err := uc.retriever.Retrieve(ctx, question, string(retrieval.MethodDefault), domain.RetrievalRequest{})
	if err != nil {
		return domain.StateDelta{}, fmt.Errorf("retrieve documents: %w", err)
	}

	delta := domain.StateDelta{Documents: plainDocuments(scored)}

	if uc.limits.ExpandQuery {
		expanded, subQuery := uc.retrieveWithHypothetical(ctx, question)
		if subQuery != "" {
			delta.SubQueries = []string{subQuery}
			delta.Documents = mergeByContent(delta.Documents, expanded)
		}
	}
	return delta, nil
}

// retrieveWithHypothetical drafts a hypothetical answer passage and searches
// with it, widening recall for questions phrased unlike the corpus. Failures
// here only lose the enrichment.
func (uc *ChatTurnUseCase) retrieveWithHypothetical(ctx context.Context, question string) ([]domain.Document, string) {
	draft, err := uc.generator.Generate(ctx, buildHypotheticalPrompt(question))
	if err != nil {
		uc.logger.Warn("hypothetical draft", "error", err)
		return nil, ""
	}
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return nil, ""
	}

	scored, err := uc.retriever.Retrieve(ctx, draft, string(retrieval.MethodDefault), domain.RetrievalRequest{})
	if err != nil {
		uc.logger.Warn("hypothetical retrieve", "error", err)
		return nil, ""
	}
	return plainDocuments(scored), draft
}

// stepRerank re-orders retrieved candidates by cross-checked relevance. The
// reranker is best-effort: on failure the turn proceeds with an empty
// reranked set, leaving the rest of the pipeline without document context.
func (uc *ChatTurnUseCase) stepRerank(ctx context.Context, state domain.ConversationState) (domain.StateDelta, error) {
	if len(state.Documents) == 0 {
		return domain.StateDelta{RerankedDocuments: []domain.Document{}}, nil
	}

	reranked, err := uc.reranker.Rerank(ctx, state.Question, state.Documents, uc.limits.RerankTopK)
	if err != nil {
		uc.logger.Warn("rerank step failed, continuing without reranking", "error", err)
		return domain.StateDelta{RerankedDocuments: []domain.Document{}}, nil
	}
	return domain.StateDelta{RerankedDocuments: reranked}, nil
}

// stepCompress narrows the reranked set down to the passages that become
// generation context. Like reranking it degrades to empty on failure; it
// never reaches past the reranked set to the raw retrieval results.
func (uc *ChatTurnUseCase) stepCompress(ctx context.Context, state domain.ConversationState) (domain.StateDelta, error) {
	candidates := state.RerankedDocuments
	if len(candidates) == 0 {
		return domain.StateDelta{CompressedDocuments: []domain.Document{}}, nil
	}

	compressed, err := uc.compressor.Compress(ctx, state.Question, candidates, uc.limits.CompressPassages)
	if err != nil {
		uc.logger.Warn("compress step failed, continuing without compression", "error", err)
		return domain.StateDelta{CompressedDocuments: []domain.Document{}}, nil
	}
	return domain.StateDelta{CompressedDocuments: compressed}, nil
}

// stepGrade keeps only compressed passages the classifier judges relevant to
// the question. Ending with zero documents is a valid outcome.
func (uc *ChatTurnUseCase) stepGrade(ctx context.Context, state domain.ConversationState) (domain.StateDelta, error) {
	if len(state.CompressedDocuments) == 0 {
		return domain.StateDelta{}, nil
	}

	kept := make([]domain.Document, 0, len(state.CompressedDocuments))
	for _, doc := range state.CompressedDocuments {
		relevant, err := uc.classifier.ClassifyBinary(ctx, buildGradePrompt(state.Question, doc))
		if err != nil {
			return domain.StateDelta{}, fmt.Errorf("grade document: %w", err)
		}
		if relevant {
			kept = append(kept, doc)
		}
	}
	return domain.StateDelta{CompressedDocuments: kept}, nil
}

func plainDocuments(scored []domain.ScoredDocument) []domain.Document {
	docs := make([]domain.Document, 0, len(scored))
	for _, s := range scored {
		docs = append(docs, s.Document)
	}
	return docs
}

// mergeByContent appends extras that do not repeat an existing document's
// content.
func mergeByContent(docs, extras []domain.Document) []domain.Document {
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		seen[doc.Content] = struct{}{}
	}
	for _, doc := range extras {
		if _, dup := seen[doc.Content]; dup {
			continue
		}
		seen[doc.Content] = struct{}{}
		docs = append(docs, doc)
	}
	return docs
}

func buildAnswerPrompt(state domain.ConversationState) string {
	historyLines := make([]string, 0, len(state.Messages))
	for _, msg := range state.Messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		historyLines = append(historyLines, fmt.Sprintf("%s: %s", msg.Role, content))
	}
	if len(historyLines) == 0 {
		historyLines = append(historyLines, "(empty)")
	}

	if state.IsSummaryEnough {
		summaryLines := state.Summaries
		if len(summaryLines) == 0 {
			summaryLines = []string{"(empty)"}
		}
		return fmt.Sprintf(`You are an assistant answering from conversation memory.
Answer the question using only the conversation summaries and history below.
If they do not contain the answer, say so.

Conversation summaries:
%s

Conversation history:
%s

Question:
%s`, strings.Join(summaryLines, "\n"), strings.Join(historyLines, "\n"), state.Question)
	}

	// Generation sees only what survived compression and grading; documents
	// dropped upstream never re-enter the context.
	contextDocs := state.CompressedDocuments
	contextLines := make([]string, 0, len(contextDocs))
	for _, doc := range contextDocs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		if src := doc.Source(); src != "" {
			contextLines = append(contextLines, fmt.Sprintf("[%s] %s", src, content))
			continue
		}
		contextLines = append(contextLines, content)
	}
	if len(contextLines) == 0 {
		contextLines = append(contextLines, "(no documents found)")
	}

	return fmt.Sprintf(`You are an assistant answering questions about the user's documents.
Answer using only the document context below. Cite nothing outside it.
If the context does not contain the answer, say you could not find it.

Document context:
%s

Conversation history:
%s

Question:
%s`, strings.Join(contextLines, "\n"), strings.Join(historyLines, "\n"), state.Question)
}

func buildHypotheticalPrompt(question string) string {
	return fmt.Sprintf(`Write one short passage that would plausibly appear in a document
answering the question below. Return only the passage text.

Question:
%s`, question)
}

func buildGradePrompt(question string, doc domain.Document) string {
	return fmt.Sprintf(`Does the following passage contain information relevant to the question?
Answer yes or no.

Passage:
%s

Question:
%s`, doc.Content, question)
}

func buildGroundingPrompt(state domain.ConversationState) string {
	contextLines := make([]string, 0, len(state.CompressedDocuments))
	for _, doc := range state.CompressedDocuments {
		contextLines = append(contextLines, strings.TrimSpace(doc.Content))
	}
	return fmt.Sprintf(`Is the answer below fully supported by the given context?
Answer yes or no.

Context:
%s

Answer:
%s`, strings.Join(contextLines, "\n"), state.Generation)
}

func buildUsefulnessPrompt(state domain.ConversationState) string {
	return fmt.Sprintf(`Does the answer below address the question?
Answer yes or no.

Question:
%s

Answer:
%s`, state.Question, state.Generation)
}

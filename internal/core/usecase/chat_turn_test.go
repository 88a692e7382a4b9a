package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/vmelnikau/docqa/internal/core/domain"
	"github.com/vmelnikau/docqa/internal/core/ports"
)

type retrieverFake struct {
	docs    []domain.ScoredDocument
	err     error
	queries []string
	methods []string
}

func (f *retrieverFake) Retrieve(_ context.Context, query, method string, _ domain.RetrievalRequest) ([]domain.ScoredDocument, error) {
	f.queries = append(f.queries, query)
	f.methods = append(f.methods, method)
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func (f *retrieverFake) ListStrategies() []domain.StrategyInfo { return nil }

type rerankerFake struct {
	out   []domain.Document
	err   error
	calls int
	topK  int
}

func (f *rerankerFake) Rerank(_ context.Context, _ string, documents []domain.Document, topK int) ([]domain.Document, error) {
	f.calls++
	f.topK = topK
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return documents, nil
}

type compressorFake struct {
	out   []domain.Document
	err   error
	calls int
	got   []domain.Document
}

func (f *compressorFake) Compress(_ context.Context, _ string, documents []domain.Document, _ int) ([]domain.Document, error) {
	f.calls++
	f.got = documents
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return documents, nil
}

type classifierFake struct {
	route         string
	routeErr      error
	binary        bool
	binaryErr     error
	binaryPrompts []string
}

func (f *classifierFake) ClassifyRoute(context.Context, string, []string) (string, error) {
	return f.route, f.routeErr
}

func (f *classifierFake) ClassifyBinary(_ context.Context, prompt string) (bool, error) {
	f.binaryPrompts = append(f.binaryPrompts, prompt)
	return f.binary, f.binaryErr
}

type generatorFake struct {
	answers   []string
	fragments []string
	err       error
	prompts   []string
}

func (f *generatorFake) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.answers) == 0 {
		return "generated answer", nil
	}
	answer := f.answers[0]
	f.answers = f.answers[1:]
	return answer, nil
}

func (f *generatorFake) GenerateStream(_ context.Context, prompt string) (<-chan ports.Fragment, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan ports.Fragment, len(f.fragments))
	for _, text := range f.fragments {
		ch <- ports.Fragment{Text: text}
	}
	close(ch)
	return ch, nil
}

type convStoreFake struct {
	history         []domain.Message
	rangeMessages   []domain.Message
	appended        []domain.Message
	summaryEndTurns []int
}

func (f *convStoreFake) EnsureConversation(_ context.Context, userID, conversationID string) (*domain.Conversation, error) {
	return &domain.Conversation{UserID: userID, ConversationID: conversationID}, nil
}

func (f *convStoreFake) NextUserTurn(context.Context, string, string) (int, error) { return 1, nil }

func (f *convStoreFake) AppendMessage(_ context.Context, message domain.Message) error {
	f.appended = append(f.appended, message)
	return nil
}

func (f *convStoreFake) ListRecentMessages(context.Context, string, string, int) ([]domain.Message, error) {
	return f.history, nil
}

func (f *convStoreFake) ListMessagesByTurnRange(context.Context, string, string, int, int) ([]domain.Message, error) {
	return f.rangeMessages, nil
}

func (f *convStoreFake) UpdateLastSummaryEndTurn(_ context.Context, _, _ string, turn int) error {
	f.summaryEndTurns = append(f.summaryEndTurns, turn)
	return nil
}

type summaryStoreFake struct {
	summaries []domain.ConversationSummary
	lastEnd   int
	created   []*domain.ConversationSummary
}

func (f *summaryStoreFake) CreateSummary(_ context.Context, summary *domain.ConversationSummary) error {
	f.created = append(f.created, summary)
	return nil
}

func (f *summaryStoreFake) ListSummaries(context.Context, string, string, int) ([]domain.ConversationSummary, error) {
	return f.summaries, nil
}

func (f *summaryStoreFake) GetLastSummaryEndTurn(context.Context, string, string) (int, error) {
	return f.lastEnd, nil
}

type identityStub struct {
	userID string
	ok     bool
}

func (s identityStub) Resolve(context.Context) (string, bool) { return s.userID, s.ok }

type publisherFake struct {
	turns []int
}

func (f *publisherFake) PublishTurnCompleted(_ context.Context, _, _ string, userTurn int) error {
	f.turns = append(f.turns, userTurn)
	return nil
}

func contextDoc(content, source string) domain.Document {
	return domain.Document{Content: content, Metadata: map[string]any{"source": source}}
}

type turnFixture struct {
	retriever  *retrieverFake
	reranker   *rerankerFake
	compressor *compressorFake
	classifier *classifierFake
	generator  *generatorFake
	store      *convStoreFake
	summaries  *summaryStoreFake
	events     *publisherFake
	uc         *ChatTurnUseCase
}

func newTurnFixture(route string, limits TurnLimits) *turnFixture {
	f := &turnFixture{
		retriever:  &retrieverFake{},
		reranker:   &rerankerFake{},
		compressor: &compressorFake{},
		classifier: &classifierFake{route: route, binary: true},
		generator:  &generatorFake{},
		store:      &convStoreFake{},
		summaries:  &summaryStoreFake{},
		events:     &publisherFake{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.uc = NewChatTurnUseCase(
		f.retriever, f.reranker, f.compressor, f.classifier, f.generator,
		f.store, f.summaries, identityStub{userID: "tenant-a", ok: true},
		f.events, limits, logger,
	)
	return f
}

func TestAskRetrieveRouteProducesGroundedAnswer(t *testing.T) {
	f := newTurnFixture(RouteRetrieve, TurnLimits{})
	f.retriever.docs = []domain.ScoredDocument{
		{Document: contextDoc("refunds take ten days", "policy.md"), Score: 0.9},
		{Document: contextDoc("shipping is free", "shipping.md"), Score: 0.7},
	}
	f.compressor.out = []domain.Document{contextDoc("refunds take ten days", "policy.md")}
	f.generator.answers = []string{"Refunds take ten days."}

	result, err := f.uc.Ask(context.Background(), "conv-1", "how long do refunds take?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	if result.Answer != "Refunds take ten days." {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	if result.Route != RouteRetrieve {
		t.Fatalf("unexpected route %q", result.Route)
	}
	if len(result.Sources) != 1 || result.Sources[0] != "policy.md" {
		t.Fatalf("expected sources from compressed context, got %+v", result.Sources)
	}
	if result.Verdict.Grounded != "yes" || result.Verdict.AnswersQuestion != "yes" {
		t.Fatalf("unexpected verdict %+v", result.Verdict)
	}
	if f.reranker.topK != 20 {
		t.Fatalf("expected rerank cap of 20, got %d", f.reranker.topK)
	}
	if len(f.retriever.methods) != 1 || f.retriever.methods[0] != "default" {
		t.Fatalf("expected retrieval with the default strategy, got %+v", f.retriever.methods)
	}

	// One user and one assistant message per turn.
	if len(f.store.appended) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(f.store.appended))
	}
	if f.store.appended[0].Role != domain.RoleUser || f.store.appended[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected message roles %+v", f.store.appended)
	}
	if len(f.events.turns) != 1 {
		t.Fatalf("expected a turn-completed event, got %d", len(f.events.turns))
	}
}

func TestAskFallbackRouteSkipsPipeline(t *testing.T) {
	f := newTurnFixture(RouteFallback, TurnLimits{})

	result, err := f.uc.Ask(context.Background(), "conv-1", "write me a poem")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	if result.Answer != fallbackAnswer {
		t.Fatalf("expected canned fallback answer, got %q", result.Answer)
	}
	if result.Route != RouteFallback {
		t.Fatalf("unexpected route %q", result.Route)
	}

	// The fallback route is terminal: no retrieval, ranking, generation or
	// verdict calls happen after it.
	if len(f.retriever.queries) != 0 {
		t.Fatalf("retriever invoked on fallback route: %+v", f.retriever.queries)
	}
	if f.reranker.calls != 0 || f.compressor.calls != 0 {
		t.Fatalf("document steps invoked on fallback route")
	}
	if len(f.generator.prompts) != 0 {
		t.Fatalf("generator invoked on fallback route")
	}
	if len(f.classifier.binaryPrompts) != 0 {
		t.Fatalf("verdict checks invoked on fallback route")
	}
	if len(f.store.appended) != 2 {
		t.Fatalf("expected fallback turn to be persisted, got %d messages", len(f.store.appended))
	}
}

func TestAskSummaryRouteAnswersFromMemory(t *testing.T) {
	f := newTurnFixture(RouteSummary, TurnLimits{})
	f.summaries.summaries = []domain.ConversationSummary{
		{Summary: "User is migrating invoices to the new billing system."},
	}
	f.generator.answers = []string{"You were migrating invoices."}

	result, err := f.uc.Ask(context.Background(), "conv-1", "what did we discuss so far?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	if result.Answer != "You were migrating invoices." {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	if len(f.retriever.queries) != 0 {
		t.Fatalf("summary route must not retrieve documents")
	}
	if len(f.generator.prompts) != 1 || !strings.Contains(f.generator.prompts[0], "migrating invoices") {
		t.Fatalf("expected summaries in generation prompt, got %+v", f.generator.prompts)
	}
	// No document context, so only the usefulness check runs.
	if len(f.classifier.binaryPrompts) != 1 {
		t.Fatalf("expected 1 verdict check, got %d", len(f.classifier.binaryPrompts))
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	f := newTurnFixture(RouteRetrieve, TurnLimits{})

	if _, err := f.uc.Ask(context.Background(), "conv-1", "   "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestStepRetrieveMissingQuestionYieldsEmptyDocuments(t *testing.T) {
	f := newTurnFixture(RouteRetrieve, TurnLimits{})

	delta, err := f.uc.stepRetrieve(context.Background(), domain.ConversationState{})
	if err != nil {
		t.Fatalf("stepRetrieve() error = %v", err)
	}
	if delta.Documents == nil || len(delta.Documents) != 0 {
		t.Fatalf("expected empty document delta, got %+v", delta.Documents)
	}
	if len(f.retriever.queries) != 0 {
		t.Fatalf("retriever must not run without a question")
	}
}

func TestAskContinuesWithoutContextWhenRerankerFails(t *testing.T) {
	f := newTurnFixture(RouteRetrieve, TurnLimits{})
	f.retriever.docs = []domain.ScoredDocument{
		{Document: contextDoc("raw corpus passage about alpha", "a.md"), Score: 0.8},
	}
	f.reranker.err = errors.New("rerank model unavailable")

	result, err := f.uc.Ask(context.Background(), "conv-1", "question about alpha")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Answer == "" {
		t.Fatalf("expected an answer despite rerank failure")
	}
	// A failed rerank empties the pipeline: the raw retrieval set must not
	// leak back into compression or the generation context.
	if f.compressor.calls != 0 {
		t.Fatalf("expected compressor to be skipped, got documents %+v", f.compressor.got)
	}
	if len(f.generator.prompts) != 1 || strings.Contains(f.generator.prompts[0], "raw corpus passage") {
		t.Fatalf("raw documents leaked into generation prompt: %+v", f.generator.prompts)
	}
	if !strings.Contains(f.generator.prompts[0], "(no documents found)") {
		t.Fatalf("expected empty-context marker in prompt, got %q", f.generator.prompts[0])
	}
	if len(result.Sources) != 0 {
		t.Fatalf("expected no sources without surviving context, got %+v", result.Sources)
	}
}

func TestAskGradedOutDocumentsStayOutOfContext(t *testing.T) {
	f := newTurnFixture(RouteRetrieve, TurnLimits{})
	f.retriever.docs = []domain.ScoredDocument{
		{Document: contextDoc("irrelevant passage about beta", "x.md"), Score: 0.8},
	}
	// Every passage is judged non-relevant.
	f.classifier.binary = false

	result, err := f.uc.Ask(context.Background(), "conv-1", "question about alpha")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Answer == "" {
		t.Fatalf("expected a degraded answer when grading drops everything")
	}
	if strings.Contains(f.generator.prompts[0], "irrelevant passage") {
		t.Fatalf("graded-out document leaked into generation prompt: %q", f.generator.prompts[0])
	}
	if !strings.Contains(f.generator.prompts[0], "(no documents found)") {
		t.Fatalf("expected empty-context marker in prompt, got %q", f.generator.prompts[0])
	}
	if len(result.Sources) != 0 {
		t.Fatalf("graded-out document reported as source: %+v", result.Sources)
	}
	// One grade call for the passage, one usefulness check; grounding is
	// skipped without surviving context.
	if len(f.classifier.binaryPrompts) != 2 {
		t.Fatalf("expected 2 classifier calls, got %d", len(f.classifier.binaryPrompts))
	}
}

func TestAskPropagatesRetrievalFailure(t *testing.T) {
	f := newTurnFixture(RouteRetrieve, TurnLimits{})
	f.retriever.err = errors.New("vector store down")

	if _, err := f.uc.Ask(context.Background(), "conv-1", "question"); err == nil {
		t.Fatalf("expected upstream retrieval failure to propagate")
	}
}

func TestAskExpandQueryRetrievesWithHypotheticalDraft(t *testing.T) {
	f := newTurnFixture(RouteRetrieve, TurnLimits{ExpandQuery: true})
	f.retriever.docs = []domain.ScoredDocument{
		{Document: contextDoc("alpha", "a.md"), Score: 0.8},
	}
	f.generator.answers = []string{"a plausible passage about alpha", "final answer"}

	result, err := f.uc.Ask(context.Background(), "conv-1", "tell me about alpha")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Answer != "final answer" {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	if len(f.retriever.queries) != 2 {
		t.Fatalf("expected retrieval for question and draft, got %+v", f.retriever.queries)
	}
	if f.retriever.queries[1] != "a plausible passage about alpha" {
		t.Fatalf("expected second retrieval to use the draft, got %q", f.retriever.queries[1])
	}
}

func TestAskStreamBuffersDigitsAndPersistsTurn(t *testing.T) {
	f := newTurnFixture(RouteRetrieve, TurnLimits{})
	f.retriever.docs = []domain.ScoredDocument{
		{Document: contextDoc("the shipment weighs 42 kg", "manifest.md"), Score: 0.9},
	}
	f.generator.fragments = []string{"The shipment weighs ", "4", "2", " kg"}

	chunks, err := f.uc.AskStream(context.Background(), "conv-1", "how heavy is the shipment?")
	if err != nil {
		t.Fatalf("AskStream() error = %v", err)
	}

	received := make([]domain.StreamChunk, 0, 4)
	for chunk := range chunks {
		received = append(received, chunk)
	}

	if len(received) != 2 {
		t.Fatalf("expected 2 chunks, got %+v", received)
	}
	if received[0].Content != "The shipment weighs " || received[1].Content != "42 kg" {
		t.Fatalf("unexpected chunk contents %+v", received)
	}
	for _, chunk := range received {
		if len(chunk.State.Sources) != 1 || chunk.State.Sources[0] != "manifest.md" {
			t.Fatalf("expected state snapshot on every chunk, got %+v", chunk.State)
		}
	}

	// The channel closes only after the turn is persisted.
	if len(f.store.appended) != 2 {
		t.Fatalf("expected persisted turn after stream end, got %d messages", len(f.store.appended))
	}
	if got := f.store.appended[1].Content; got != "The shipment weighs 42 kg" {
		t.Fatalf("expected full answer persisted, got %q", got)
	}
}

func TestAskStreamFallbackRouteEmitsCannedAnswer(t *testing.T) {
	f := newTurnFixture(RouteFallback, TurnLimits{})

	chunks, err := f.uc.AskStream(context.Background(), "conv-1", "unrelated request")
	if err != nil {
		t.Fatalf("AskStream() error = %v", err)
	}

	received := make([]domain.StreamChunk, 0, 1)
	for chunk := range chunks {
		received = append(received, chunk)
	}
	if len(received) != 1 || received[0].Content != fallbackAnswer {
		t.Fatalf("expected single canned chunk, got %+v", received)
	}
	if len(f.retriever.queries) != 0 {
		t.Fatalf("retriever invoked on streamed fallback route")
	}
}

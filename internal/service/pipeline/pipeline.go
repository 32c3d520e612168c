package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/grimoire/backend/internal/model/book"
	"github.com/zhouzirui/grimoire/backend/internal/model/chat"
	personamodel "github.com/zhouzirui/grimoire/backend/internal/model/persona"
	"github.com/zhouzirui/grimoire/backend/internal/model/speech"
	"github.com/zhouzirui/grimoire/backend/internal/service/ai"
	personaservice "github.com/zhouzirui/grimoire/backend/internal/service/persona"
)

const (
	// ApologyReply stands in for the persona when generation fails.
	ApologyReply = "Forgive me, my pages have gone quiet for a moment. Could you ask me that again?"
	// EmptyTranscriptReply answers a voice turn in which nothing was heard.
	EmptyTranscriptReply = "I'm sorry, I couldn't hear anything in that recording. Could you try again?"
)

// PersonaResolver classifies a book into a persona.
type PersonaResolver interface {
	Resolve(ctx context.Context, title, author string) (personaservice.Result, error)
}

// ReplyGenerator turns a composed prompt into the persona's answer.
type ReplyGenerator interface {
	Reply(ctx context.Context, prompt string) (string, error)
}

// Transcriber converts a recorded clip into text.
type Transcriber interface {
	TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
}

// Synthesizer converts the answer into speech.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// TurnLog is the conversation history the pipeline reads from and appends to.
type TurnLog interface {
	Get(ctx context.Context, id string) (chat.Conversation, error)
	Append(ctx context.Context, conversationID string, turn chat.Turn) (chat.Turn, error)
}

// Options configures a Pipeline. Transcriber and Synthesizer may be nil for text-only deployments.
type Options struct {
	Resolver    PersonaResolver
	Generator   ReplyGenerator
	Transcriber Transcriber
	Synthesizer Synthesizer
	Log         TurnLog
	// Timeout bounds each external call. Zero disables the bound.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Pipeline orchestrates one text or voice turn.
type Pipeline struct {
	resolver    PersonaResolver
	generator   ReplyGenerator
	transcriber Transcriber
	synthesizer Synthesizer
	log         TurnLog
	timeout     time.Duration
	logger      *zap.Logger
}

// New 创建对话编排器。
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		resolver:    opts.Resolver,
		generator:   opts.Generator,
		transcriber: opts.Transcriber,
		synthesizer: opts.Synthesizer,
		log:         opts.Log,
		timeout:     opts.Timeout,
		logger:      logger.Named("pipeline"),
	}
}

// VoiceEnabled reports whether voice turns can run.
func (p *Pipeline) VoiceEnabled() bool {
	return p.transcriber != nil
}

// TextInput is one typed question.
type TextInput struct {
	ConversationID string
	Book           book.Book
	// History is rendered as given. When nil and ConversationID is set, the stored log is used.
	History  []chat.HistoryEntry
	Question string
}

// TextResult is the outcome of a text turn.
type TextResult struct {
	Answer  string
	Persona *personamodel.Persona
	// Failure is GenerationFailed when Answer is the apology.
	Failure FailureKind
	States  []State
}

// VoiceInput is one recorded question.
type VoiceInput struct {
	ConversationID string
	Book           book.Book
	History        []chat.HistoryEntry
	Audio          []byte
	AudioFormat    string
	// Language hints the transcriber; empty uses the configured default.
	Language string
	// Voice overrides the voice picked from the persona's gender.
	Voice string
	// SkipSynthesis answers in text only.
	SkipSynthesis bool
}

// VoiceResult is the outcome of a voice turn. Persona is nil on the empty transcript path
// and Audio is nil whenever synthesis was skipped or failed.
type VoiceResult struct {
	Transcript    string
	Answer        string
	Persona       *personamodel.Persona
	Audio         []byte
	AudioMimeType string
	Failure       FailureKind
	States        []State
}

// RunText answers a typed question.
func (p *Pipeline) RunText(ctx context.Context, in TextInput) (*TextResult, error) {
	in.Book = in.Book.Normalize()
	in.ConversationID = strings.TrimSpace(in.ConversationID)
	tr := p.newTrace("text", in.ConversationID)

	if in.Book.Title == "" {
		return nil, tr.fail(missingInput("bookTitle is required"))
	}
	if strings.TrimSpace(in.Question) == "" {
		return nil, tr.fail(missingInput("question is required"))
	}

	history, err := p.loadHistory(ctx, in.ConversationID, in.History)
	if err != nil {
		return nil, tr.fail(err)
	}

	out := p.answer(ctx, tr, in.ConversationID, in.Book, history, in.Question)
	tr.finish(out.failure)
	return &TextResult{
		Answer:  out.answer,
		Persona: &out.persona,
		Failure: out.failure,
		States:  tr.states,
	}, nil
}

// RunVoice transcribes a recorded question, answers it and voices the answer.
func (p *Pipeline) RunVoice(ctx context.Context, in VoiceInput) (*VoiceResult, error) {
	in.Book = in.Book.Normalize()
	in.ConversationID = strings.TrimSpace(in.ConversationID)
	tr := p.newTrace("voice", in.ConversationID)

	if len(in.Audio) == 0 {
		return nil, tr.fail(missingInput("audioBase64 is required"))
	}
	if in.Book.Title == "" {
		return nil, tr.fail(missingInput("bookTitle is required"))
	}
	if p.transcriber == nil {
		return nil, tr.fail(&Error{Kind: UpstreamUnavailable, Err: fmt.Errorf("speech transcription is not configured")})
	}

	history, err := p.loadHistory(ctx, in.ConversationID, in.History)
	if err != nil {
		return nil, tr.fail(err)
	}

	tr.enter(StateTranscribing)
	transcript, err := p.transcribe(ctx, in)
	if err != nil {
		return nil, tr.fail(&Error{Kind: TranscriptionFailed, Err: err})
	}

	if transcript == "" {
		tr.finish(FailureNone)
		return &VoiceResult{
			Transcript: "",
			Answer:     EmptyTranscriptReply,
			States:     tr.states,
		}, nil
	}

	out := p.answer(ctx, tr, in.ConversationID, in.Book, history, transcript)
	result := &VoiceResult{
		Transcript: transcript,
		Answer:     out.answer,
		Persona:    &out.persona,
		Failure:    out.failure,
	}

	if out.failure == FailureNone && p.synthesizer != nil && !in.SkipSynthesis {
		tr.enter(StateSynthesizing)
		if audio, err := p.synthesize(ctx, in.ConversationID, out.answer, out.persona.Gender, in.Voice); err != nil {
			p.logger.Warn("synthesis failed, returning text only",
				zap.String("turn", tr.id),
				zap.String("kind", string(SynthesisFailed)),
				zap.Error(err),
			)
		} else {
			result.Audio = audio.AudioData
			result.AudioMimeType = audio.MimeType
		}
	}

	tr.finish(out.failure)
	result.States = tr.states
	return result, nil
}

type answerOutcome struct {
	answer  string
	persona personamodel.Persona
	failure FailureKind
}

// answer runs PersonaResolving, Composing and Generating, then records the exchange.
func (p *Pipeline) answer(ctx context.Context, tr *trace, conversationID string, b book.Book, history []chat.HistoryEntry, question string) answerOutcome {
	tr.enter(StatePersonaResolving)
	persona := p.resolvePersona(ctx, tr, b)

	tr.enter(StateComposing)
	prompt := ai.Compose(persona, b, history, question)

	tr.enter(StateGenerating)
	out := answerOutcome{persona: persona}
	answer, err := p.generate(ctx, prompt)
	if err != nil {
		p.logger.Error("generation failed",
			zap.String("turn", tr.id),
			zap.String("kind", string(GenerationFailed)),
			zap.String("title", b.Title),
			zap.Error(err),
		)
		out.answer = ApologyReply
		out.failure = GenerationFailed
	} else {
		out.answer = answer
	}

	p.record(ctx, tr, conversationID, question, out.answer)
	return out
}

func (p *Pipeline) resolvePersona(ctx context.Context, tr *trace, b book.Book) personamodel.Persona {
	callCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	result, err := p.resolver.Resolve(callCtx, b.Title, b.Author)
	if err != nil {
		p.logger.Warn("persona resolution failed, using last-resort persona",
			zap.String("turn", tr.id),
			zap.String("kind", string(ClassificationFailed)),
			zap.String("title", b.Title),
			zap.Error(err),
		)
		return personamodel.Default(b.Title)
	}
	return result.Persona
}

func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := p.withTimeout(ctx)
	defer cancel()
	return p.generator.Reply(callCtx, prompt)
}

func (p *Pipeline) transcribe(ctx context.Context, in VoiceInput) (string, error) {
	callCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	resp, err := p.transcriber.TranscribeAudio(callCtx, &speech.ASRRequest{
		ConversationID: in.ConversationID,
		AudioData:      in.Audio,
		Format:         in.AudioFormat,
		Language:       in.Language,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (p *Pipeline) synthesize(ctx context.Context, conversationID, text string, gender personamodel.Gender, voice string) (*speech.TTSResponse, error) {
	callCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	resp, err := p.synthesizer.SynthesizeSpeech(callCtx, &speech.TTSRequest{
		ConversationID: conversationID,
		Text:           text,
		Gender:         gender,
		Voice:          voice,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.AudioData) == 0 {
		return nil, fmt.Errorf("synthesis returned no audio")
	}
	return resp, nil
}

func (p *Pipeline) loadHistory(ctx context.Context, conversationID string, history []chat.HistoryEntry) ([]chat.HistoryEntry, error) {
	if conversationID == "" || p.log == nil {
		return history, nil
	}

	conversation, err := p.log.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if history == nil {
		return conversation.History(), nil
	}
	return history, nil
}

// record appends the user turn strictly before the persona turn. Failures are
// logged and never undo a reply that was already produced.
func (p *Pipeline) record(ctx context.Context, tr *trace, conversationID, question, answer string) {
	if conversationID == "" || p.log == nil {
		return
	}

	if _, err := p.log.Append(ctx, conversationID, chat.Turn{Role: chat.RoleUser, Content: question}); err != nil {
		p.logger.Warn("append user turn failed", zap.String("turn", tr.id), zap.String("conversationId", conversationID), zap.Error(err))
		return
	}
	if _, err := p.log.Append(ctx, conversationID, chat.Turn{Role: chat.RolePersona, Content: answer}); err != nil {
		p.logger.Warn("append persona turn failed", zap.String("turn", tr.id), zap.String("conversationId", conversationID), zap.Error(err))
	}
}

func (p *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *Pipeline) newTrace(mode, conversationID string) *trace {
	tr := &trace{
		id:     uuid.NewString(),
		logger: p.logger.With(zap.String("mode", mode), zap.String("conversationId", conversationID)),
	}
	tr.enter(StateReceived)
	return tr
}

package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chadiek/prescreen/internal/agent"
	"github.com/chadiek/prescreen/internal/auth"
	"github.com/chadiek/prescreen/internal/catalog"
	"github.com/chadiek/prescreen/internal/records"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// RecordSaver persists questionnaire records.
type RecordSaver interface {
	Save(ctx context.Context, r records.Record) (records.Record, error)
}

// Archive stores finished session transcripts outside the record store.
type Archive interface {
	ArchiveTranscript(ctx context.Context, key string, data []byte) error
}

// IntakeService turns finished questionnaires into stored records.
type IntakeService interface {
	// OnComplete is an agent.CompletionFunc.
	OnComplete(ctx context.Context, c agent.Completion)
	RecordCompletion(ctx context.Context, c agent.Completion) (records.Record, bool, error)
	FormSubmitted(ctx context.Context, category string, formData map[string]any) (records.Record, bool, error)
}

type intakeService struct {
	saver    RecordSaver
	identity auth.Identity
	catalog  *catalog.Catalog
	archive  Archive
	now      func() time.Time
}

// NewIntakeService wires the saver, the current user and the catalog. archive may be nil.
func NewIntakeService(saver RecordSaver, identity auth.Identity, cat *catalog.Catalog, archive Archive) IntakeService {
	return &intakeService{saver: saver, identity: identity, catalog: cat, archive: archive, now: time.Now}
}

func (s *intakeService) OnComplete(ctx context.Context, c agent.Completion) {
	if _, _, err := s.RecordCompletion(ctx, c); err != nil {
		log.Error().Err(err).Str("session_id", c.SessionID).Str("variant", c.Variant).Msg("failed to record completed session")
	}
}

// RecordCompletion saves a finished voice session for the signed-in user. The bool is false
// when nobody is signed in and nothing was saved.
func (s *intakeService) RecordCompletion(ctx context.Context, c agent.Completion) (records.Record, bool, error) {
	s.archiveTranscript(ctx, c)

	userID, ok := s.identity.UserID()
	if !ok {
		log.Info().Str("session_id", c.SessionID).Msg("no signed-in user; session not saved")
		return records.Record{}, false, nil
	}

	r := records.Record{
		UserID:              userID,
		VoiceSessionID:      c.SessionID,
		FormType:            c.FormType,
		ConversationHistory: flatten(c.History),
	}
	switch c.Variant {
	case agent.VariantFollowUp:
		cat := s.catalog.Resolve(c.FormType)
		r.Type = tag(c.FormType, cat) + "-followup"
		r.Clinic = cat.Clinic
		r.FormData = c.FormData
	default:
		cat, known := s.catalog.Lookup(c.FormType)
		switch {
		case known && cat.VoiceType != "":
			r.Type = cat.VoiceType
		case c.FormType != "":
			r.Type = strings.ToLower(c.FormType) + "-voice"
		default:
			r.Type = "general-voice"
		}
		r.Clinic = s.catalog.Resolve(c.FormType).Clinic
	}

	saved, err := s.saver.Save(ctx, records.Stamp(r, s.now()))
	if err != nil {
		return records.Record{}, false, fmt.Errorf("save %s record: %w", r.Type, err)
	}
	log.Info().Str("record_id", saved.ID).Str("type", saved.Type).Str("user_id", userID).Msg("questionnaire saved")
	return saved, true, nil
}

// FormSubmitted saves a written form for the signed-in user.
func (s *intakeService) FormSubmitted(ctx context.Context, category string, formData map[string]any) (records.Record, bool, error) {
	cat, ok := s.catalog.Lookup(category)
	if !ok {
		return records.Record{}, false, fmt.Errorf("unknown form category %q", category)
	}
	userID, ok := s.identity.UserID()
	if !ok {
		return records.Record{}, false, nil
	}
	r := records.Record{
		UserID:   userID,
		Type:     tag(cat.Name, cat),
		Clinic:   cat.Clinic,
		FormType: cat.FormType,
		FormData: formData,
	}
	saved, err := s.saver.Save(ctx, records.Stamp(r, s.now()))
	if err != nil {
		return records.Record{}, false, fmt.Errorf("save %s form: %w", cat.Name, err)
	}
	return saved, true, nil
}

func (s *intakeService) archiveTranscript(ctx context.Context, c agent.Completion) {
	if s.archive == nil || c.SessionID == "" {
		return
	}
	data, err := json.Marshal(struct {
		SessionID string       `json:"session_id"`
		Variant   string       `json:"variant"`
		FormType  string       `json:"form_type,omitempty"`
		Skipped   bool         `json:"skipped,omitempty"`
		History   []agent.Turn `json:"conversation_history"`
		Completed time.Time    `json:"completed_at"`
	}{c.SessionID, c.Variant, c.FormType, c.Skipped, c.History, s.now().UTC()})
	if err != nil {
		log.Warn().Err(err).Str("session_id", c.SessionID).Msg("encode transcript")
		return
	}
	key := fmt.Sprintf("transcripts/%s.json", c.SessionID)
	if err := s.archive.ArchiveTranscript(ctx, key, data); err != nil {
		log.Warn().Err(err).Str("session_id", c.SessionID).Msg("archive transcript failed")
	}
}

// tag is the record type stem for a category: its form type, else its name.
func tag(fallback string, cat catalog.Category) string {
	if cat.FormType != "" {
		return cat.FormType
	}
	if cat.Name != "" {
		return cat.Name
	}
	return strings.ToLower(fallback)
}

func flatten(history []agent.Turn) []records.Turn {
	out := make([]records.Turn, len(history))
	for i, t := range history {
		out[i] = records.Turn{Question: t.Question, Answer: t.Answer}
	}
	return out
}

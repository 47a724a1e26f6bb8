// Package protocol implements the extension's action-tagged message protocol on top of the session store.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chartsense/internal/privacy"
	"github.com/thebtf/chartsense/internal/sessions"
	"github.com/thebtf/chartsense/pkg/analysis"
	"github.com/thebtf/chartsense/pkg/models"
)

// Action names understood by the dispatcher.
const (
	ActionSaveChatSession     = "saveChatSession"
	ActionGetChatSessions     = "getChatSessions"
	ActionGetSessionStats     = "getSessionStats"
	ActionClearTodaysSessions = "clearTodaysSessions"
	ActionGetSessionDays      = "getSessionDays"
	ActionSaveAnalysis        = "saveAnalysis"
	ActionRunRetention        = "runRetention"
	ActionAnalyzeChart        = "analyzeChart"
)

// Request is one inbound message.
type Request struct {
	Action   string          `json:"action"`
	Data     json.RawMessage `json:"data,omitempty"`
	Date     string          `json:"date,omitempty"`
	Provider string          `json:"provider,omitempty"`
	Text     string          `json:"text,omitempty"`
}

// Response is the reply to a Request. Only the fields relevant to the action are encoded.
type Response struct {
	Success   bool                      `json:"success"`
	Error     string                    `json:"error,omitempty"`
	SessionID int64                     `json:"sessionId,omitempty"`
	Sessions  []models.SessionRecord    `json:"sessions,omitempty"`
	Stats     *models.SessionStats      `json:"stats,omitempty"`
	Days      []string                  `json:"days,omitempty"`
	Retention *sessions.RetentionResult `json:"retention,omitempty"`
	Data      any                       `json:"data,omitempty"`

	// statsReply encodes stats even when nil, as an explicit null.
	statsReply bool
}

// MarshalJSON encodes the response. Empty session and day lists stay as [] and a
// stats reply without buckets carries "stats": null.
func (r Response) MarshalJSON() ([]byte, error) {
	out := map[string]any{"success": r.Success}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.SessionID != 0 {
		out["sessionId"] = r.SessionID
	}
	if r.Sessions != nil {
		out["sessions"] = r.Sessions
	}
	if r.Stats != nil || r.statsReply {
		out["stats"] = r.Stats
	}
	if r.Days != nil {
		out["days"] = r.Days
	}
	if r.Retention != nil {
		out["retention"] = r.Retention
	}
	if r.Data != nil {
		out["data"] = r.Data
	}
	return json.Marshal(out)
}

// Fail builds an error response.
func Fail(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

// SessionStore is the part of sessions.Store the dispatcher needs.
type SessionStore interface {
	Save(ctx context.Context, fields models.SessionFields) (int64, error)
	List(ctx context.Context, date string) ([]models.SessionRecord, error)
	Stats(ctx context.Context) (*models.SessionStats, error)
	ClearToday(ctx context.Context) error
	RunRetention(ctx context.Context) (*sessions.RetentionResult, error)
	Days(ctx context.Context) ([]string, error)
}

// LabelResolver maps a provider id to its display label.
type LabelResolver interface {
	Label(id string) string
}

// Dispatcher routes requests to the session store.
type Dispatcher struct {
	store    SessionStore
	labels   LabelResolver
	location *time.Location
}

// NewDispatcher creates a dispatcher. labels may be nil, in which case provider ids are used as labels.
// loc converts RFC 3339 instants to date keys; nil means time.Local.
func NewDispatcher(store SessionStore, labels LabelResolver, loc *time.Location) *Dispatcher {
	if loc == nil {
		loc = time.Local
	}
	return &Dispatcher{store: store, labels: labels, location: loc}
}

// ErrUnknownAction is returned for requests with an unrecognised action.
var ErrUnknownAction = errors.New("unknown action")

// Handle processes one request. It never panics; every failure becomes a Success=false response.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("action", req.Action).
				Interface("panic", r).
				Msg("Recovered panic in message handler")
			resp = Response{Success: false, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	resp, err := d.Dispatch(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("action", req.Action).Msg("Message handling failed")
		return Fail(err)
	}
	return resp
}

// Dispatch routes req to its action and returns the action's error unconverted.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Response, error) {
	switch req.Action {
	case ActionSaveChatSession:
		return d.saveChatSession(ctx, req)
	case ActionGetChatSessions:
		return d.getChatSessions(ctx, req)
	case ActionGetSessionStats:
		return d.getSessionStats(ctx)
	case ActionClearTodaysSessions:
		if err := d.store.ClearToday(ctx); err != nil {
			return Response{}, err
		}
		return Response{Success: true}, nil
	case ActionGetSessionDays:
		return d.getSessionDays(ctx)
	case ActionSaveAnalysis:
		return d.saveAnalysis(ctx, req)
	case ActionRunRetention:
		return d.runRetention(ctx)
	case ActionAnalyzeChart:
		return Response{Success: true, Data: map[string]string{"status": "processed"}}, nil
	default:
		return Response{}, fmt.Errorf("%w: %s", ErrUnknownAction, req.Action)
	}
}

func (d *Dispatcher) saveChatSession(ctx context.Context, req Request) (Response, error) {
	if len(req.Data) == 0 || string(req.Data) == "null" {
		return Response{}, &sessions.ValidationError{Field: "data", Reason: "required"}
	}

	var fields models.SessionFields
	if err := json.Unmarshal(req.Data, &fields); err != nil {
		return Response{}, &sessions.ValidationError{Field: "data", Reason: err.Error()}
	}
	fields.Body = privacy.Redact(fields.Body)

	id, err := d.store.Save(ctx, fields)
	if err != nil {
		return Response{}, err
	}
	log.Debug().Int64("sessionId", id).Msg("Chat session saved")
	return Response{Success: true, SessionID: id}, nil
}

func (d *Dispatcher) getChatSessions(ctx context.Context, req Request) (Response, error) {
	date, err := d.normalizeDate(req.Date)
	if err != nil {
		return Response{}, err
	}

	records, err := d.store.List(ctx, date)
	if err != nil {
		return Response{}, err
	}
	if records == nil {
		records = []models.SessionRecord{}
	}
	return Response{Success: true, Sessions: records}, nil
}

func (d *Dispatcher) getSessionStats(ctx context.Context) (Response, error) {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		return Response{}, err
	}
	return Response{Success: true, Stats: stats, statsReply: true}, nil
}

func (d *Dispatcher) getSessionDays(ctx context.Context) (Response, error) {
	days, err := d.store.Days(ctx)
	if err != nil {
		return Response{}, err
	}
	if days == nil {
		days = []string{}
	}
	return Response{Success: true, Days: days}, nil
}

func (d *Dispatcher) saveAnalysis(ctx context.Context, req Request) (Response, error) {
	if req.Provider == "" {
		return Response{}, &sessions.ValidationError{Field: "provider", Reason: "required"}
	}

	parsed := analysis.Parse(req.Text)
	label := req.Provider
	if d.labels != nil {
		label = d.labels.Label(req.Provider)
	}

	id, err := d.store.Save(ctx, models.SessionFields{
		ProviderLabel: label,
		Rating:        parsed.Rating,
		Confidence:    parsed.Confidence,
		Body:          privacy.Clean(parsed.Body),
	})
	if err != nil {
		return Response{}, err
	}
	log.Debug().
		Int64("sessionId", id).
		Str("provider", req.Provider).
		Str("rating", string(parsed.Rating)).
		Msg("Analysis saved")
	return Response{Success: true, SessionID: id}, nil
}

func (d *Dispatcher) runRetention(ctx context.Context) (Response, error) {
	result, err := d.store.RunRetention(ctx)
	if err != nil {
		return Response{}, err
	}
	log.Info().
		Str("cutoff", result.Cutoff).
		Strs("removed", result.Removed).
		Msg("Retention sweep completed")
	return Response{Success: true, Retention: result}, nil
}

// normalizeDate accepts "", a YYYY-MM-DD key or an RFC 3339 instant, and returns a date key ("" means today).
func (d *Dispatcher) normalizeDate(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if sessions.ValidateDate(raw) == nil {
		return raw, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return sessions.DateKey(t, d.location), nil
	}
	return "", &sessions.ValidationError{Field: "date", Reason: "expected YYYY-MM-DD or RFC 3339", Value: raw}
}

package web

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"schedline/internal/entry"
	"schedline/internal/finish"
	appLog "schedline/internal/log"
	"schedline/internal/planner"
	"schedline/internal/store"
)

// itemDTO is a JSON-friendly view of a stored item.
type itemDTO struct {
	ID         int64      `json:"id,omitempty"`
	Entry      string     `json:"entry,omitempty"`
	Type       string     `json:"type"`
	Subject    string     `json:"subject"`
	Source     string     `json:"source,omitempty"`
	UID        string     `json:"uid,omitempty"`
	Priority   int        `json:"priority,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Location   string     `json:"location,omitempty"`
	Zone       string     `json:"zone,omitempty"`
	Schedule   string     `json:"schedule,omitempty"`
	State      string     `json:"state"`
	Jobs       []jobDTO   `json:"jobs,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type jobDTO struct {
	ID       int        `json:"id,omitempty"`
	Summary  string     `json:"summary"`
	Requires []int      `json:"requires,omitempty"`
	Finished *time.Time `json:"finished,omitempty"`
}

func newItemDTO(it planner.Item) itemDTO {
	dto := itemDTO{
		ID:         it.ID,
		Entry:      it.Entry,
		Type:       it.Type,
		Subject:    it.Subject,
		Source:     it.Source,
		UID:        it.UID,
		FinishedAt: it.FinishedAt,
	}
	m := it.Item
	if m == nil {
		return dto
	}
	if dto.Type == "" {
		dto.Type = m.Type.String()
		dto.Subject = m.Subject
	}
	dto.Priority = m.Priority
	dto.Tags = m.Tags
	dto.Location = m.Location
	dto.Zone = m.Zone
	if m.RuleSet != nil {
		dto.Schedule = m.RuleSet.String()
	}
	dto.State = finish.StateOf(m).String()
	for _, j := range m.Jobs {
		dto.Jobs = append(dto.Jobs, jobDTO{ID: j.ID, Summary: j.Summary, Requires: j.Requires, Finished: j.Finished})
	}
	return dto
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	ItemID  int64      `json:"item_id"`
	Type    string     `json:"type"`
	Summary string     `json:"summary"`
	Job     string     `json:"job,omitempty"`
	JobID   int        `json:"job_id,omitempty"`
	AllDay  bool       `json:"all_day"`
	Start   time.Time  `json:"start"`
	End     *time.Time `json:"end,omitempty"`
}

func newOccurrenceDTO(o store.Occurrence, loc *time.Location) occurrenceDTO {
	dto := occurrenceDTO{
		ItemID:  o.ItemID,
		Type:    o.Type,
		Summary: o.Subject,
		Job:     o.Job,
		JobID:   o.JobID,
		Start:   o.Start.In(loc),
	}
	if o.HasEnd() {
		end := o.End.In(loc)
		dto.End = &end
	}
	dto.AllDay = midnight(dto.Start) && (dto.End == nil || midnight(*dto.End))
	return dto
}

func midnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0
}

// entryErrorResponse describes why an entry was rejected.
type entryErrorResponse struct {
	Error  string   `json:"error"`
	Kind   string   `json:"kind"`
	Issues []string `json:"issues,omitempty"`
	// Fields lists the keys whose values failed to parse.
	Fields []string `json:"fields,omitempty"`
	// Allowed lists the keys that may follow an incomplete entry.
	Allowed []string `json:"allowed,omitempty"`
}

// writeEntryError answers 422 for entries that do not parse and falls back
// to writeServiceError for everything else.
func writeEntryError(w http.ResponseWriter, err error) {
	var (
		lexErr     *entry.LexError
		grammarErr *entry.GrammarError
		fieldErrs  entry.FieldErrors
	)
	switch {
	case errors.As(err, &lexErr):
		writeJSON(w, http.StatusUnprocessableEntity, entryErrorResponse{Error: lexErr.Error(), Kind: "lex"})
	case errors.As(err, &grammarErr):
		writeJSON(w, http.StatusUnprocessableEntity, entryErrorResponse{
			Error:   grammarErr.Error(),
			Kind:    "grammar",
			Issues:  grammarErr.Messages,
			Allowed: grammarErr.Allowed,
		})
	case errors.As(err, &fieldErrs):
		issues := make([]string, len(fieldErrs))
		for i, fe := range fieldErrs {
			issues[i] = fe.Error()
		}
		writeJSON(w, http.StatusUnprocessableEntity, entryErrorResponse{
			Error:  fieldErrs.Error(),
			Kind:   "field",
			Issues: issues,
			Fields: fieldErrs.Keys(),
		})
	default:
		writeServiceError(w, err)
	}
}

// writeServiceError maps planner errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "item not found")
	case errors.Is(err, planner.ErrReadOnly):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, finish.ErrAlreadyFinished),
		errors.Is(err, finish.ErrJobFinished):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, finish.ErrNotCompletable),
		errors.Is(err, finish.ErrNoJobs),
		errors.Is(err, finish.ErrJobNotFound):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		appLog.Error("api: request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

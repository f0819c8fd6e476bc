package server

import (
	"encoding/json"
	"time"

	"taskline/internal/domain"
)

type QueryRequest struct {
	Query string `json:"query" minLength:"1" maxLength:"8000" example:"update task 5131 status to active" doc:"Natural-language request"`
}

type QueryResponse struct {
	Success    bool                  `json:"success"`
	Response   string                `json:"response"`
	Intent     string                `json:"intent"`
	Confidence float64               `json:"confidence"`
	ToolUsed   string                `json:"tool_used"`
	Metadata   QueryMetadataResponse `json:"metadata"`
}

type QueryMetadataResponse struct {
	QueryID   string                `json:"query_id"`
	State     string                `json:"state,omitempty" example:"reported"`
	Rejection string                `json:"rejection,omitempty" example:"missing_id"`
	Entities  domain.EntityBag      `json:"entities"`
	Outcomes  []ItemOutcomeResponse `json:"outcomes,omitempty"`
}

type ItemOutcomeResponse struct {
	WorkItemID int            `json:"work_item_id"`
	OK         bool           `json:"ok"`
	Updates    map[string]any `json:"updates,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type HistoryEntryResponse struct {
	UserInput  string  `json:"user_input"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Response   string  `json:"response"`
	Success    bool    `json:"success"`
	Timestamp  string  `json:"timestamp" format:"date-time"`
}

type HistoryResponse struct {
	ActorID string                 `json:"actor_id"`
	Items   []HistoryEntryResponse `json:"items"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	QueryID    string          `json:"query_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func queryResponse(res domain.Result) QueryResponse {
	out := QueryResponse{
		Success:    res.Success,
		Response:   res.Response,
		Intent:     string(res.Intent),
		Confidence: res.Confidence,
		ToolUsed:   res.ToolUsed,
		Metadata: QueryMetadataResponse{
			QueryID:   res.Metadata.QueryID,
			State:     res.Metadata.State,
			Rejection: res.Metadata.Rejection,
			Entities:  res.Metadata.Entities,
		},
	}
	for _, o := range res.Metadata.Outcomes {
		item := ItemOutcomeResponse{WorkItemID: o.WorkItemID, OK: o.OK, Error: o.Error}
		if len(o.Updates) > 0 {
			item.Updates = map[string]any{}
			for _, u := range o.Updates {
				item.Updates[string(u.Field)] = u.Value
			}
		}
		out.Metadata.Outcomes = append(out.Metadata.Outcomes, item)
	}
	return out
}

func historyResponse(actorID string, entries []domain.HistoryEntry) HistoryResponse {
	out := HistoryResponse{ActorID: actorID, Items: []HistoryEntryResponse{}}
	for _, e := range entries {
		out.Items = append(out.Items, HistoryEntryResponse{
			UserInput:  e.UserInput,
			Intent:     string(e.Intent),
			Confidence: e.Confidence,
			Response:   e.Response,
			Success:    e.Success,
			Timestamp:  e.Timestamp.Format(time.RFC3339),
		})
	}
	return out
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		QueryID:    evt.QueryID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

package models

import "encoding/json"

// EventType names an event on the client stream.
type EventType string

const (
	EventSearchStart  EventType = "search_start"
	EventSourceStatus EventType = "session_status"
	EventLiveView     EventType = "session_start"
	EventSourceResult EventType = "session_result"
	EventSourceError  EventType = "session_error"
	EventHeartbeat    EventType = "heartbeat"
	EventTimeout      EventType = "timeout"
	EventComplete     EventType = "complete"
)

// SourceState is the lifecycle position of one source within a session.
type SourceState string

const (
	StatePending   SourceState = "pending"
	StateConnected SourceState = "connected"
	StateSucceeded SourceState = "succeeded"
	StateErrored   SourceState = "errored"
	StateTimedOut  SourceState = "timed_out"
	StateCancelled SourceState = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s SourceState) Terminal() bool {
	switch s {
	case StateSucceeded, StateErrored, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Event is one item of the ordered stream sent to a client. Only the fields
// relevant to Type are serialized.
type Event struct {
	Type EventType

	// search_start
	Query    string
	Sites    []string
	SearchID string

	// per-source events
	Site         string
	SiteName     string
	Status       string
	StreamingURL string
	SearchURL    string
	Products     []Product
	Error        string

	// heartbeat, timeout, complete
	Elapsed float64
	Message string

	// Records carries the extracted payload from a worker to the supervisor,
	// which turns it into Products. State is the terminal state a worker
	// reached. Neither is sent to clients.
	Records []map[string]any
	State   SourceState
}

// Terminal reports whether the event ends a source.
func (e Event) Terminal() bool {
	return e.Type == EventSourceResult || e.Type == EventSourceError
}

// MarshalJSON renders the wire shape for the event type.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventSearchStart:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			Query    string    `json:"query"`
			Sites    []string  `json:"sites"`
			SearchID string    `json:"search_id"`
		}{e.Type, e.Query, nonNilStrings(e.Sites), e.SearchID})
	case EventSourceStatus:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			Site     string    `json:"site"`
			SiteName string    `json:"site_name"`
			Status   string    `json:"status"`
		}{e.Type, e.Site, e.SiteName, e.Status})
	case EventLiveView:
		return json.Marshal(struct {
			Type         EventType `json:"type"`
			Site         string    `json:"site"`
			SiteName     string    `json:"site_name"`
			StreamingURL string    `json:"streamingUrl"`
			SearchURL    string    `json:"searchUrl"`
		}{e.Type, e.Site, e.SiteName, e.StreamingURL, e.SearchURL})
	case EventSourceResult:
		products := e.Products
		if products == nil {
			products = []Product{}
		}
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			Site     string    `json:"site"`
			SiteName string    `json:"site_name"`
			Products []Product `json:"products"`
			Count    int       `json:"count"`
		}{e.Type, e.Site, e.SiteName, products, len(products)})
	case EventSourceError:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			Site     string    `json:"site"`
			SiteName string    `json:"site_name"`
			Error    string    `json:"error"`
		}{e.Type, e.Site, e.SiteName, e.Error})
	case EventHeartbeat:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Elapsed float64   `json:"elapsed"`
		}{e.Type, e.Elapsed})
	case EventTimeout:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
		}{e.Type, e.Message})
	case EventComplete:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			TotalTime float64   `json:"total_time"`
		}{e.Type, e.Elapsed})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

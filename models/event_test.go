package models

import (
	"encoding/json"
	"testing"
)

func TestEventMarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "search start",
			ev:   Event{Type: EventSearchStart, Query: "xbox", SearchID: "abc"},
			want: `{"type":"search_start","query":"xbox","sites":[],"search_id":"abc"}`,
		},
		{
			name: "status",
			ev:   Event{Type: EventSourceStatus, Site: "amazon", SiteName: "Amazon Warehouse", Status: "connecting"},
			want: `{"type":"session_status","site":"amazon","site_name":"Amazon Warehouse","status":"connecting"}`,
		},
		{
			name: "live view",
			ev:   Event{Type: EventLiveView, Site: "a", SiteName: "A", StreamingURL: "https://live", SearchURL: "https://a/s"},
			want: `{"type":"session_start","site":"a","site_name":"A","streamingUrl":"https://live","searchUrl":"https://a/s"}`,
		},
		{
			name: "empty result",
			ev:   Event{Type: EventSourceResult, Site: "a", SiteName: "A", Records: []map[string]any{{"name": "raw"}}},
			want: `{"type":"session_result","site":"a","site_name":"A","products":[],"count":0}`,
		},
		{
			name: "result",
			ev: Event{Type: EventSourceResult, Site: "a", SiteName: "A", Products: []Product{
				{Name: "X", SalePrice: "$1"},
			}},
			want: `{"type":"session_result","site":"a","site_name":"A","products":[{"name":"X","original_price":"","sale_price":"$1","condition":""}],"count":1}`,
		},
		{
			name: "error",
			ev:   Event{Type: EventSourceError, Site: "a", SiteName: "A", Error: "HTTP 500", State: StateErrored},
			want: `{"type":"session_error","site":"a","site_name":"A","error":"HTTP 500"}`,
		},
		{
			name: "heartbeat",
			ev:   Event{Type: EventHeartbeat, Elapsed: 4.2},
			want: `{"type":"heartbeat","elapsed":4.2}`,
		},
		{
			name: "complete",
			ev:   Event{Type: EventComplete, Elapsed: 12.34},
			want: `{"type":"complete","total_time":12.34}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Fatalf("json = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestSourceStateTerminal(t *testing.T) {
	for _, s := range []SourceState{StateSucceeded, StateErrored, StateTimedOut, StateCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []SourceState{StatePending, StateConnected} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestSourceTemplates(t *testing.T) {
	src := Source{
		SearchURL: "https://shop.example/s?q={query}&cat=1",
		Goal:      "Extract '{query}' listings",
	}
	if got := src.TargetURL("xbox series x&s"); got != "https://shop.example/s?q=xbox%20series%20x%26s&cat=1" {
		t.Fatalf("target url = %q", got)
	}
	if got := src.ExtractionGoal("xbox"); got != "Extract 'xbox' listings" {
		t.Fatalf("goal = %q", got)
	}
	if keys := SourceKeys([]Source{{Key: "a"}, {Key: "b"}}); len(keys) != 2 || keys[1] != "b" {
		t.Fatalf("keys = %v", keys)
	}
}

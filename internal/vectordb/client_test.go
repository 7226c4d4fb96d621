package vectordb

import (
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{name: "https with grpc port", rawURL: "https://qdrant.example.com:6334", host: "qdrant.example.com", port: 6334, tls: true},
		{name: "http rest port mapped to grpc", rawURL: "http://localhost:6333", host: "localhost", port: 6334},
		{name: "no port defaults", rawURL: "http://qdrant", host: "qdrant", port: 6334},
		{name: "custom port kept", rawURL: "http://qdrant:7000", host: "qdrant", port: 7000},
		{name: "garbage", rawURL: "://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, tls, err := ParseURL(tt.rawURL)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURL: %v", err)
			}
			if host != tt.host || port != tt.port || tls != tt.tls {
				t.Errorf("got (%s, %d, %v), want (%s, %d, %v)", host, port, tls, tt.host, tt.port, tt.tls)
			}
		})
	}
}

func TestBuildSearchFilter(t *testing.T) {
	start := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filter   *SearchFilter
		wantNil  bool
		wantMust int
	}{
		{name: "nil filter", filter: nil, wantNil: true},
		{name: "empty filter", filter: &SearchFilter{}, wantNil: true},
		{name: "service only", filter: &SearchFilter{Service: "payment"}, wantMust: 1},
		{
			name: "full filter",
			filter: &SearchFilter{
				Service:   "payment",
				Route:     "/api/checkout",
				ErrorCode: "CARD_DECLINED",
				UserRole:  "premium",
				Start:     &start,
				End:       &end,
			},
			wantMust: 5,
		},
		{name: "has error without code", filter: &SearchFilter{HasError: true}, wantMust: 1},
		{
			// An explicit code already implies an error; no extra condition.
			name:     "has error with code",
			filter:   &SearchFilter{HasError: true, ErrorCode: "TIMEOUT"},
			wantMust: 1,
		},
		{name: "latency buckets", filter: &SearchFilter{LatencyBuckets: []string{">1000ms", "500-1000ms"}}, wantMust: 1},
		{name: "time range only", filter: &SearchFilter{Start: &start}, wantMust: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchFilter(tt.filter)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("expected nil filter, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected non-nil filter")
			}
			if len(got.Must) != tt.wantMust {
				t.Errorf("got %d conditions, want %d", len(got.Must), tt.wantMust)
			}
		})
	}
}

func TestBuildSearchFilterHasErrorExcludesEmptyCode(t *testing.T) {
	got := buildSearchFilter(&SearchFilter{HasError: true})
	if got == nil || len(got.Must) != 1 {
		t.Fatalf("expected one condition, got %+v", got)
	}

	field := got.Must[0].GetField()
	if field == nil || field.Key != "error_code" {
		t.Fatalf("expected field condition on error_code, got %+v", got.Must[0])
	}
	except, ok := field.Match.MatchValue.(*qdrant.Match_ExceptKeywords)
	if !ok {
		t.Fatalf("match value = %T, want Match_ExceptKeywords", field.Match.MatchValue)
	}
	if strings := except.ExceptKeywords.GetStrings(); len(strings) != 1 || strings[0] != "" {
		t.Errorf("except keywords = %v, want single empty string", strings)
	}
}

func TestPointToQdrantOmitsEmptyOptionalFields(t *testing.T) {
	p := Point{
		ID:     "7f6c0f1e-0000-0000-0000-000000000001",
		Vector: []float32{0.1, 0.2},
		Payload: PointPayload{
			RequestID:     "req-1",
			Timestamp:     time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
			Service:       "payment",
			Route:         "/api/checkout",
			StatusCode:    500,
			LatencyBucket: ">1000ms",
			Summary:       "checkout failed",
			Model:         "test-embed",
		},
	}

	qp := pointToQdrant(p)

	if _, ok := qp.Payload["error_code"]; ok {
		t.Error("empty error_code should be omitted")
	}
	if _, ok := qp.Payload["user_role"]; ok {
		t.Error("empty user_role should be omitted")
	}
	if _, ok := qp.Payload["timestamp_unix"]; !ok {
		t.Error("timestamp_unix missing")
	}
	if got := qp.Payload["service"].GetStringValue(); got != "payment" {
		t.Errorf("service = %q", got)
	}
}

func TestCollectionName(t *testing.T) {
	if got := collectionName("events"); got != "logsage_events" {
		t.Errorf("collectionName = %q", got)
	}
}

package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/list/history?"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", DefaultLimit, 0},
		{"limit=5&offset=10", 5, 10},
		{"limit=0", DefaultLimit, 0},
		{"limit=-3", DefaultLimit, 0},
		{"limit=1000", MaxLimit, 0},
		{"offset=-1", DefaultLimit, 0},
		{"limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		p := paramsFor(tt.query)
		if p.Limit != tt.limit || p.Offset != tt.offset {
			t.Errorf("%q: expected limit=%d offset=%d, got %+v", tt.query, tt.limit, tt.offset, p)
		}
	}
}

func TestParams_Navigation(t *testing.T) {
	p := Params{Limit: 10, Offset: 5}
	if !p.HasNext(20) {
		t.Error("expected a next page")
	}
	if p.HasNext(15) {
		t.Error("expected no next page at the end")
	}
	if !p.HasPrevious() {
		t.Error("expected a previous page")
	}
	if p.NextOffset() != 15 {
		t.Errorf("expected next offset 15, got %d", p.NextOffset())
	}
	if p.PreviousOffset() != 0 {
		t.Errorf("expected previous offset clamped to 0, got %d", p.PreviousOffset())
	}
	if (Params{Limit: 10}).HasPrevious() {
		t.Error("first page has no previous")
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 5, Params{Limit: 2, Offset: 2})
	if r.Total != 5 || r.Limit != 2 || r.Offset != 2 || !r.HasMore {
		t.Errorf("unexpected response: %+v", r)
	}
	last := NewResponse([]string{"e"}, 5, Params{Limit: 2, Offset: 4})
	if last.HasMore {
		t.Error("last page should not have more")
	}
}

func TestResponse_WithLinks(t *testing.T) {
	u, _ := url.Parse("/api/v1/oncall/list/history?owner=dr-night&limit=2&offset=2")
	r := NewResponse(nil, 5, Params{Limit: 2, Offset: 2}).WithLinks(u)

	if r.Next != "/api/v1/oncall/list/history?limit=2&offset=4&owner=dr-night" {
		t.Errorf("unexpected next link: %s", r.Next)
	}
	if r.Previous != "/api/v1/oncall/list/history?limit=2&offset=0&owner=dr-night" {
		t.Errorf("unexpected previous link: %s", r.Previous)
	}

	first := NewResponse(nil, 1, Params{Limit: 2}).WithLinks(u)
	if first.Next != "" || first.Previous != "" {
		t.Errorf("single page should carry no links: %+v", first)
	}
}

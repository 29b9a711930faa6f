package pagination

import (
	"net/url"
	"testing"
)

func TestFromQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		opts  []Option
		want  Params
	}{
		{name: "defaults", query: "", want: Params{Page: 1, Limit: DefaultLimit, Offset: 0, Sort: SortNewest}},
		{name: "page and limit", query: "page=3&limit=10", want: Params{Page: 3, Limit: 10, Offset: 20, Sort: SortNewest}},
		{name: "limit capped", query: "limit=1000", want: Params{Page: 1, Limit: MaxLimit, Offset: 0, Sort: SortNewest}},
		{name: "garbage ignored", query: "page=-2&limit=abc&sort=sideways", want: Params{Page: 1, Limit: DefaultLimit, Offset: 0, Sort: SortNewest}},
		{name: "options", query: "sort=oldest", opts: []Option{WithDefaultLimit(5), WithDefaultSort(SortNewest)}, want: Params{Page: 1, Limit: 5, Offset: 0, Sort: SortOldest}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatal(err)
			}
			if got := FromQuery(q, tt.opts...); got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSlice(t *testing.T) {
	all := []int{1, 2, 3, 4, 5}
	page := Slice(all, Params{Page: 2, Limit: 2, Offset: 2})
	if len(page.Items) != 2 || page.Items[0] != 3 || !page.HasNext || page.Total != 5 {
		t.Fatalf("page = %+v", page)
	}
	last := Slice(all, Params{Page: 3, Limit: 2, Offset: 4})
	if len(last.Items) != 1 || last.HasNext {
		t.Fatalf("last = %+v", last)
	}
	beyond := Slice(all, Params{Page: 9, Limit: 2, Offset: 16})
	if beyond.Items == nil || len(beyond.Items) != 0 {
		t.Fatalf("beyond = %+v", beyond)
	}
}

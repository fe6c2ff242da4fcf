package taskid

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	long := strings.Repeat("a", 300)
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{"t1", "t1", nil},
		{"  a1b2c3d4-e5f6-7890-abcd-ef1234567890 ", "a1b2c3d4-e5f6-7890-abcd-ef1234567890", nil},
		{"nb:task_01.A", "nb:task_01.A", nil},
		{"task/1", "task/1", nil},
		{"task#1", "task#1", nil},
		{"a b", "a b", nil},
		{long, long, nil},
		{"", "", ErrMissing},
		{"   ", "", ErrMissing},
		{"\t\n", "", ErrMissing},
	}
	for _, tt := range tests {
		got, err := Validate(tt.in)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("Validate(%q): expected error %v, got %v", tt.in, tt.wantErr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Validate(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestFromQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/check-task?taskId=t3", nil)
	got, err := FromQuery(req)
	if err != nil || got != "t3" {
		t.Errorf("expected t3, got %q (err %v)", got, err)
	}

	req = httptest.NewRequest("GET", "/api/check-task?taskId="+url.QueryEscape("task/1"), nil)
	got, err = FromQuery(req)
	if err != nil || got != "task/1" {
		t.Errorf("expected task/1, got %q (err %v)", got, err)
	}

	req = httptest.NewRequest("GET", "/api/check-task", nil)
	if _, err := FromQuery(req); !errors.Is(err, ErrMissing) {
		t.Errorf("expected ErrMissing, got %v", err)
	}
}

package app

import (
	"errors"
	"testing"
	"time"

	"cmslake/internal/testutil"
)

func TestNewOperation(t *testing.T) {
	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{
			name:       "with parameters",
			operation:  "stage",
			parameters: "blog/hello.md",
		},
		{
			name:       "empty parameters",
			operation:  "pull",
			parameters: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutil.FixedClock()
			op := NewOperation(tt.operation, tt.parameters, testutil.NewStubIDGenerator(), clock)

			if op.Name != tt.operation {
				t.Errorf("Name = %q, want %q", op.Name, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != StatusRunning {
				t.Errorf("Status = %q, want %q", op.Status, StatusRunning)
			}
			if op.ID != "id-1" {
				t.Errorf("ID = %q, want %q", op.ID, "id-1")
			}
			if !op.StartedAt.Equal(clock.Now()) {
				t.Errorf("StartedAt = %v, want %v", op.StartedAt, clock.Now())
			}
		})
	}
}

func TestOperation_Finish(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "success without error", err: nil, want: StatusSuccess},
		{name: "error status on failure", err: errors.New("boom"), want: StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutil.FixedClock()
			op := NewOperation("commit", "", testutil.NewStubIDGenerator(), clock)
			if op.Finished() {
				t.Fatal("Finished() = true before Finish")
			}
			if d := op.Duration(); d != 0 {
				t.Errorf("Duration() = %v while running, want 0", d)
			}

			clock.Advance(3 * time.Second)
			op.Finish(tt.err, clock.Now())

			if op.Status != tt.want {
				t.Errorf("Status = %q, want %q", op.Status, tt.want)
			}
			if d := op.Duration(); d != 3*time.Second {
				t.Errorf("Duration() = %v, want 3s", d)
			}
		})
	}

	t.Run("first outcome wins", func(t *testing.T) {
		clock := testutil.FixedClock()
		op := NewOperation("commit", "", testutil.NewStubIDGenerator(), clock)
		op.Finish(errors.New("boom"), clock.Now())
		op.Finish(nil, clock.Now().Add(time.Minute))
		if op.Status != StatusError {
			t.Errorf("Status = %q, want %q", op.Status, StatusError)
		}
	})
}

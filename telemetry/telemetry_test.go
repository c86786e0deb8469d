package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestSetupWithNoEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestStartSpanRecordsErrorWithoutPanicking(t *testing.T) {
	if _, err := Setup(context.Background(), Config{}); err != nil {
		t.Fatal(err)
	}
	_, end := StartSpan(context.Background(), "invoke", "pod-1")
	end(errors.New("boom"))
}

package googleproc

import (
	"context"
	"testing"

	"github.com/cahq/orchestrator/internal/backend"
	"github.com/cahq/orchestrator/internal/cherrors"
)

func TestInvoke_MissingAPIKeyIsBackendConfigError(t *testing.T) {
	a := New("", "")
	_, err := a.Invoke(context.Background(), backend.Request{Prompt: "hi"})
	if !cherrors.Is(err, cherrors.BackendConfig) {
		t.Fatalf("expected BackendConfig error, got %v", err)
	}
}

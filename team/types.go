// Package team runs a task through a coordinator and a set of
// workbench-backed actors, reporting progress as raw signals.
package team

import (
	"context"
	"iter"

	"github.com/acauret/infrastructure-agent/message"
)

// GenerateRequest bundles inputs for a model invocation.
type GenerateRequest struct {
	Messages []*message.Message
	Tools    []map[string]any
}

// GenerateResponse captures the model reply for non-streaming calls.
type GenerateResponse struct {
	Message *message.Message
}

// ModelClient is the minimal model interface an actor needs.
type ModelClient interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// StreamingModelClient is implemented by clients that can stream. The
// iterator yields delta messages (Completed false) followed by the final
// accumulated message (Completed true). Actors degrade gracefully when the
// client is non-streaming.
type StreamingModelClient interface {
	ModelClient
	GenerateStream(ctx context.Context, req *GenerateRequest) iter.Seq2[*message.Message, error]
}

package team

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/acauret/infrastructure-agent/event"
	"github.com/acauret/infrastructure-agent/message"
	"github.com/acauret/infrastructure-agent/pkg/logging"
	"github.com/acauret/infrastructure-agent/pkg/telemetry"
	"github.com/acauret/infrastructure-agent/tool"
	"github.com/acauret/infrastructure-agent/tool/web"
	"github.com/acauret/infrastructure-agent/workbench"
)

const (
	// maxMessages caps the shared conversation; reaching it ends the run.
	maxMessages = 30

	terminateToken = "TERMINATE"
	askUserPrefix  = "ASK_USER:"
)

// assignPattern matches a coordinator directive line such as
// "@azure: list the subscriptions".
var assignPattern = regexp.MustCompile(`(?m)^@([a-zA-Z_]+):\s*(.+)$`)

// Team implements broker.TaskRunner: it connects the configured workbenches,
// builds the actor set from what actually came up, and drives the
// coordinator loop until termination.
type Team struct {
	client  ModelClient
	manager *workbench.Manager
	specs   []workbench.Spec

	logger      *slog.Logger
	tracer      trace.Tracer
	maxMessages int
	budget      *budget
}

// Option configures a Team.
type Option func(*Team)

// WithLogger overrides the team's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Team) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMaxMessages overrides the conversation cap.
func WithMaxMessages(n int) Option {
	return func(t *Team) {
		if n > 0 {
			t.maxMessages = n
		}
	}
}

// WithTokenBudget sets the model and token budget used for conversation
// trimming.
func WithTokenBudget(model string, tokens int) Option {
	return func(t *Team) {
		t.budget = newBudget(model, tokens, t.logger)
	}
}

// New constructs a Team over the given model client, workbench manager, and
// workbench specs.
func New(client ModelClient, manager *workbench.Manager, specs []workbench.Spec, opts ...Option) *Team {
	t := &Team{
		client:      client,
		manager:     manager,
		specs:       specs,
		logger:      logging.WithComponent("team"),
		tracer:      telemetry.Tracer("team"),
		maxMessages: maxMessages,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.budget == nil {
		t.budget = newBudget("gpt-4o", defaultTokenBudget, t.logger)
	}
	return t
}

// Run executes one task. Workbench failures are reported as status signals
// and the run continues with whatever actors could be built; a model error
// ends the run.
func (t *Team) Run(ctx context.Context, task string, emit func(event.Signal), requestInput func(ctx context.Context, prompt string) (string, error)) (err error) {
	ctx, span := t.tracer.Start(ctx, "team.run", trace.WithAttributes(
		attribute.Int("workbench.specs", len(t.specs)),
	))
	defer func() { telemetry.End(span, err) }()

	outcomes := t.manager.ConnectAll(ctx, t.specs, func(out workbench.Outcome) {
		emit(event.Signal{Kind: event.KindStatus, Text: connectStatus(out)})
	})

	handles := make([]*workbench.Handle, 0, len(outcomes))
	for _, out := range outcomes {
		if out.Handle != nil {
			handles = append(handles, out.Handle)
		}
	}
	defer t.manager.CloseAll(handles)

	actors := t.buildActors(outcomes)
	roster := actorRoster(actors)
	coordinator := NewActor("coordinator", coordinatorPrompt(roster), t.client, nil, t.logger)

	conversation := []*message.Message{message.New(message.RoleUser, task)}

	for len(conversation) < t.maxMessages {
		reply, rerr := coordinator.Respond(ctx, t.budget.trim(conversation), emit)
		if rerr != nil {
			return rerr
		}
		conversation = append(conversation, reply)
		text := reply.Content

		if strings.Contains(text, terminateToken) {
			return nil
		}

		if question, ok := askUserQuestion(text); ok {
			answer, ierr := requestInput(ctx, question)
			if ierr != nil {
				return fmt.Errorf("team: waiting for input: %w", ierr)
			}
			conversation = append(conversation, message.New(message.RoleUser, answer))
			continue
		}

		name, ok := parseAssignment(text)
		if !ok {
			conversation = append(conversation, message.New(message.RoleUser,
				"Reply with a directive: '@actor: task' to delegate, 'ASK_USER: question' for input, or TERMINATE when done."))
			continue
		}

		actor, ok := actors[name]
		if !ok {
			conversation = append(conversation, message.New(message.RoleUser,
				fmt.Sprintf("Actor %q is not available. Available actors: %s.", name, roster)))
			continue
		}

		actorReply, rerr := actor.Respond(ctx, t.budget.trim(conversation), emit)
		if rerr != nil {
			return rerr
		}
		conversation = append(conversation, actorReply)

		if strings.Contains(actorReply.Content, terminateToken) {
			return nil
		}
	}

	emit(event.Signal{Kind: event.KindStatus, Text: "message limit reached, ending run"})
	return nil
}

// buildActors maps connect outcomes to the actor set. The web actor always
// exists: it uses browser workbench capabilities when available and falls
// back to the page reader otherwise. The infracoder actor only joins when
// both the github and browser workbenches came up.
func (t *Team) buildActors(outcomes []workbench.Outcome) map[string]*Actor {
	byKind := make(map[workbench.Kind]*workbench.Handle)
	for _, out := range outcomes {
		if out.Err == nil && out.Handle != nil && out.Handle.State() == workbench.StateReady {
			byKind[out.Spec.Kind] = out.Handle
		}
	}

	actors := make(map[string]*Actor)

	if h, ok := byKind[workbench.KindAzure]; ok {
		actors["azure"] = NewActor("azure", azurePrompt, t.client, registryFor(h, t.logger), t.logger)
	}
	if h, ok := byKind[workbench.KindAzureDevOps]; ok {
		actors["ado"] = NewActor("ado", adoPrompt, t.client, registryFor(h, t.logger), t.logger)
	}
	if h, ok := byKind[workbench.KindGitHub]; ok {
		actors["github"] = NewActor("github", githubPrompt, t.client, registryFor(h, t.logger), t.logger)
	}

	if h, ok := byKind[workbench.KindBrowser]; ok {
		actors["web"] = NewActor("web", webPrompt, t.client, registryFor(h, t.logger), t.logger)
	} else {
		fallback := tool.NewRegistry()
		if err := fallback.Register(web.ReadPage()); err != nil {
			t.logger.Warn("page reader registration failed", "error", err)
		}
		actors["web"] = NewActor("web", webPrompt, t.client, fallback, t.logger)
	}

	github, hasGitHub := byKind[workbench.KindGitHub]
	browser, hasBrowser := byKind[workbench.KindBrowser]
	if hasGitHub && hasBrowser {
		combined := tool.NewRegistry()
		mergeCapabilities(combined, github, t.logger)
		mergeCapabilities(combined, browser, t.logger)
		actors["infracoder"] = NewActor("infracoder", infracoderPrompt, t.client, combined, t.logger)
	}

	return actors
}

// registryFor exposes a handle's capabilities as actor tools.
func registryFor(h *workbench.Handle, logger *slog.Logger) *tool.Registry {
	registry := tool.NewRegistry()
	mergeCapabilities(registry, h, logger)
	return registry
}

func mergeCapabilities(registry *tool.Registry, h *workbench.Handle, logger *slog.Logger) {
	for _, c := range h.Capabilities() {
		name := c.Name
		if err := registry.Register(&tool.Tool{
			Name:        name,
			Description: c.Description,
			Schema:      c.Schema,
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return h.Invoke(ctx, name, args)
			},
		}); err != nil {
			logger.Warn("capability registration skipped", "kind", h.Kind(), "capability", name, "error", err)
		}
	}
}

func connectStatus(out workbench.Outcome) string {
	if out.Err == nil && out.Handle != nil {
		return fmt.Sprintf("%s workbench connected (%d capabilities)", out.Spec.Kind, len(out.Handle.Capabilities()))
	}
	reason := ""
	if out.Handle != nil {
		reason = out.Handle.FailureReason()
	}
	if reason == "" && out.Err != nil {
		reason = out.Err.Error()
	}
	return fmt.Sprintf("%s workbench unavailable: %s", out.Spec.Kind, reason)
}

func actorRoster(actors map[string]*Actor) string {
	names := make([]string, 0, len(actors))
	for name := range actors {
		names = append(names, name)
	}
	// Keep a stable presentation order for the prompt.
	order := []string{"azure", "ado", "github", "web", "infracoder"}
	sorted := make([]string, 0, len(names))
	for _, want := range order {
		for _, name := range names {
			if name == want {
				sorted = append(sorted, name)
			}
		}
	}
	return strings.Join(sorted, ", ")
}

// askUserQuestion extracts the question from an ASK_USER directive line.
func askUserQuestion(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, askUserPrefix); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

// parseAssignment extracts the addressed actor from a directive line.
func parseAssignment(text string) (string, bool) {
	m := assignPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}
